// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Cache         CacheConfig         `mapstructure:"cache"`
	GitHub        GitHubConfig        `mapstructure:"github"`
	Jira          JiraConfig          `mapstructure:"jira"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	// Sites 是需要周期性同步模板树的仓库名列表。
	Sites []string `mapstructure:"sites"`
	// Products 是启动时写入数据库的产品种子数据。
	Products []ProductSeed `mapstructure:"products"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 为 mysql（默认）或 sqlite。
	Driver string      `mapstructure:"driver"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时直接使用文件缓存。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	// Disabled 为 true 时 API 不做 token 校验（本地开发）。
	Disabled bool `mapstructure:"disabled"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// CacheConfig 存储树缓存相关的配置。
type CacheConfig struct {
	// Dir 是文件缓存的根目录，实际文件位于 {Dir}/tree-cache。
	Dir string `mapstructure:"dir"`
}

// GitHubConfig 存储 GitHub REST API 的配置。
type GitHubConfig struct {
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	APIURL string `mapstructure:"api_url"`
	// CloneURL 是克隆地址模板，%s/%s 依次替换为组织和仓库名。
	CloneURL string `mapstructure:"clone_url"`
}

// JiraConfig 存储 Jira 的配置。URL 为空时不启用工单相关功能。
type JiraConfig struct {
	URL                  string        `mapstructure:"url"`
	Email                string        `mapstructure:"email"`
	Token                string        `mapstructure:"token"`
	Labels               []string      `mapstructure:"labels"`
	ProjectID            string        `mapstructure:"project_id"`
	CopyUpdatesEpic      string        `mapstructure:"copy_updates_epic"`
	RejectedTransitionID string        `mapstructure:"rejected_transition_id"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// SyncConfig 存储模板树同步相关的参数。
type SyncConfig struct {
	// Mode 为 clone（整库克隆）或 download（逐文件下载）。
	Mode    string `mapstructure:"mode"`
	BaseDir string `mapstructure:"base_dir"`
	Branch  string `mapstructure:"branch"`
	// CloneRetries/CloneRetryDelay 控制克隆失败后的重试。
	CloneRetries    int           `mapstructure:"clone_retries"`
	CloneRetryDelay time.Duration `mapstructure:"clone_retry_delay"`
	// FlagPollInterval/FlagPollTimeout 控制读磁盘前等待后台任务标记的时间。
	FlagPollInterval time.Duration `mapstructure:"flag_poll_interval"`
	FlagPollTimeout  time.Duration `mapstructure:"flag_poll_timeout"`
	ScanRetries      int           `mapstructure:"scan_retries"`
	ScanRetryDelay   time.Duration `mapstructure:"scan_retry_delay"`
	// LockTTL 是后台任务标记的最长持有时间，进程崩溃后标记会自动过期。
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	TreeInterval       time.Duration `mapstructure:"tree_interval"`
	JiraStatusInterval time.Duration `mapstructure:"jira_status_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时下载任务在进程内执行。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ProductSeed 是一条产品种子数据。
type ProductSeed struct {
	Slug string `mapstructure:"slug"`
	Name string `mapstructure:"name"`
}

// SiteNames 返回需要周期性同步的站点，忽略空项和重复项。
func (c Config) SiteNames() []string {
	seen := make(map[string]bool, len(c.Sites))
	names := make([]string, 0, len(c.Sites))
	for _, site := range c.Sites {
		site = strings.TrimSpace(site)
		if site == "" || seen[site] {
			continue
		}
		seen[site] = true
		names = append(names, site)
	}
	return names
}

// setDefaults 为所有同步参数设置默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8104")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cache.dir", "./data")
	v.SetDefault("github.org", "canonical")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.clone_url", "https://github.com/%s/%s.git")
	v.SetDefault("jira.rejected_transition_id", "31")
	v.SetDefault("jira.timeout", 30*time.Second)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("sync.mode", "clone")
	v.SetDefault("sync.base_dir", "./data")
	v.SetDefault("sync.branch", "main")
	v.SetDefault("sync.clone_retries", 5)
	v.SetDefault("sync.clone_retry_delay", 5*time.Second)
	v.SetDefault("sync.flag_poll_interval", 5*time.Second)
	v.SetDefault("sync.flag_poll_timeout", 30*time.Second)
	v.SetDefault("sync.scan_retries", 5)
	v.SetDefault("sync.scan_retry_delay", time.Second)
	v.SetDefault("sync.lock_ttl", 10*time.Minute)
	v.SetDefault("sync.tree_interval", 30*time.Second)
	v.SetDefault("sync.jira_status_interval", 5*time.Second)
	v.SetDefault("sync.shutdown_timeout", 10*time.Second)
	v.SetDefault("kafka.topic", "template-downloads")
	v.SetDefault("kafka.group_id", "content-system-go-consumer")
	v.SetDefault("elasticsearch.index_name", "webpages")
	v.SetDefault("minio.bucket_name", "site-trees")
}

// Load 从指定路径读取 YAML 文件，叠加环境变量和默认值后返回配置。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	// 允许使用 GITHUB_TOKEN、DATABASE_REDIS_ADDR 这样的环境变量覆盖配置
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Sync.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查同步参数。周期和轮询间隔必须为正数，重试次数至少为 1。
func (c SyncConfig) Validate() error {
	durations := []struct {
		key   string
		value time.Duration
	}{
		{"sync.flag_poll_interval", c.FlagPollInterval},
		{"sync.tree_interval", c.TreeInterval},
		{"sync.jira_status_interval", c.JiraStatusInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s 必须大于 0，当前为 %s", d.key, d.value)
		}
	}
	if c.FlagPollTimeout < 0 || c.CloneRetryDelay < 0 || c.ScanRetryDelay < 0 || c.LockTTL < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("sync 中的时长不能为负数")
	}
	if c.CloneRetries < 1 || c.ScanRetries < 1 {
		return fmt.Errorf("sync.clone_retries 和 sync.scan_retries 至少为 1")
	}
	return nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
