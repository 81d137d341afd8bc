// Package app 按配置组装数据库、缓存、外部客户端、服务和后台任务，供各个命令共用。
package app

import (
	"context"
	"errors"
	"time"

	"content-system-go/internal/config"
	"content-system-go/internal/fetcher"
	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/internal/scheduler"
	"content-system-go/internal/service"
	"content-system-go/pkg/cache"
	"content-system-go/pkg/database"
	"content-system-go/pkg/es"
	"content-system-go/pkg/github"
	"content-system-go/pkg/jira"
	"content-system-go/pkg/kafka"
	"content-system-go/pkg/log"
	"content-system-go/pkg/storage"
	"content-system-go/pkg/token"

	"gorm.io/gorm"
)

// downloadWorkers 是未配置 Kafka 时进程内下载 worker 的数量。
const downloadWorkers = 4

// App 持有一个进程内的全部组件。
type App struct {
	Config     config.Config
	DB         *gorm.DB
	Cache      *cache.Cache
	Fetcher    fetcher.Fetcher
	Sites      *service.SiteRepositoryFactory
	Pages      service.PageService
	Jira       service.JiraService
	Search     service.SearchService
	JWT        *token.JWTManager
	Supervisor *scheduler.Supervisor

	jiraEnabled bool
	producer    *kafka.Producer
}

// New 按配置创建 App。数据库不可用时返回错误，Redis、Elasticsearch 和 MinIO 不可用时降级运行。
func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	database.DB = db

	if cfg.Database.Redis.Addr != "" {
		if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
			log.Warnf("Redis 不可用: %v", err)
		}
	}
	treeCache, err := cache.Init(ctx, database.RDB, cfg.Cache.Dir)
	if err != nil {
		log.Warnf("缓存不可用，模板树每次都从数据库读取: %v", err)
	}

	a := &App{
		Config:     cfg,
		DB:         db,
		Cache:      treeCache,
		Supervisor: scheduler.NewSupervisor(ctx),
	}

	gh := github.NewClient(cfg.GitHub)
	f, downloader := fetcher.New(cfg.Sync, gh, treeCache)
	a.Fetcher = f
	if downloader != nil {
		a.startDownloadWorkers(downloader)
	}

	projects := repository.NewProjectRepository(db)
	webpages := repository.NewWebpageRepository(db)
	users := repository.NewUserRepository(db)
	reviewers := repository.NewReviewerRepository(db)
	products := repository.NewProductRepository(db)
	assets := repository.NewAssetRepository(db)
	tasks := repository.NewJiraTaskRepository(db)

	if err := products.Seed(productSeeds(cfg.Products)); err != nil {
		log.Warnf("写入产品种子数据失败: %v", err)
	}

	a.Sites = service.NewSiteRepositoryFactory(projects, webpages, users, treeCache, f, service.SyncOptionsFromConfig(cfg.Sync))

	var searcher service.PageSearcher
	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Warnf("Elasticsearch 初始化失败，页面搜索不可用: %v", err)
		} else {
			indexer := es.NewIndexer(es.ESClient, cfg.Elasticsearch.IndexName)
			a.Sites.SetIndexer(indexer)
			searcher = indexer
		}
	}

	var snapshots service.SnapshotStore
	if cfg.MinIO.Endpoint != "" {
		if err := storage.InitMinIO(cfg.MinIO); err != nil {
			log.Warnf("MinIO 初始化失败，模板树快照不可用: %v", err)
		} else {
			archiver := storage.NewArchiver(storage.MinioClient, cfg.MinIO.BucketName)
			a.Sites.SetArchiver(archiver)
			snapshots = archiver
		}
	}

	var jiraClient service.JiraClient
	if client := jira.NewClient(cfg.Jira); client.Enabled() {
		jiraClient = client
		a.jiraEnabled = true
	} else {
		log.Warnf("未配置 Jira，工单相关接口不可用")
	}

	a.Pages = service.NewPageService(projects, webpages, users, reviewers, products, assets, a.Sites)
	a.Jira = service.NewJiraService(jiraClient, webpages, users, tasks, a.Sites)
	a.Search = service.NewSearchService(searcher, snapshots, a.Sites)

	if !cfg.JWT.Disabled {
		a.JWT = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	}
	return a, nil
}

// startDownloadWorkers 为逐文件下载选择任务通道：配置了 Kafka 时发送到 Kafka 并在本进程消费，否则使用进程内队列。
func (a *App) startDownloadWorkers(downloader *fetcher.Downloader) {
	cfg := a.Config.Kafka
	if cfg.Brokers != "" {
		a.producer = kafka.NewProducer(cfg)
		downloader.SetDispatcher(a.producer)
		counter := kafka.NewAttemptCounter(database.RDB)
		a.Supervisor.Go("kafka-consumer", func(ctx context.Context) {
			kafka.StartConsumer(ctx, cfg, downloader, counter)
		})
		return
	}
	local := fetcher.NewLocalDispatcher(downloader, 0)
	downloader.SetDispatcher(local)
	a.Supervisor.Go("download-workers", func(ctx context.Context) {
		local.Run(ctx, downloadWorkers)
	})
}

func productSeeds(seeds []config.ProductSeed) []model.Product {
	products := make([]model.Product, 0, len(seeds))
	for _, seed := range seeds {
		products = append(products, model.Product{Slug: seed.Slug, Name: seed.Name})
	}
	return products
}

// StartJobs 启动周期任务：重建所有站点的模板树，以及在配置了 Jira 时同步工单状态。
func (a *App) StartJobs() {
	sites := a.Config.SiteNames()
	a.Supervisor.Every("load-site-trees", a.Config.Sync.TreeInterval, func(ctx context.Context) error {
		return scheduler.LoadSiteTrees(ctx, sites, a.Sites)
	})
	if a.jiraEnabled {
		a.Supervisor.Every("update-jira-statuses", a.Config.Sync.JiraStatusInterval, func(ctx context.Context) error {
			return scheduler.UpdateJiraStatuses(ctx, a.Jira)
		})
	}
}

// Close 停止后台任务并关闭所有连接。
func (a *App) Close(timeout time.Duration) error {
	var errs []error
	if err := a.Supervisor.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if database.RDB != nil {
		if err := database.RDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
