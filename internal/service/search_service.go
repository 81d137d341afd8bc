package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"content-system-go/internal/model"
	"content-system-go/pkg/log"
	"content-system-go/pkg/storage"
)

var (
	// ErrSearchDisabled 表示没有配置 Elasticsearch。
	ErrSearchDisabled = errors.New("search is not configured")
	// ErrSnapshotsDisabled 表示没有配置对象存储。
	ErrSnapshotsDisabled = errors.New("tree snapshots are not configured")
	// ErrSnapshotNotFound 表示站点还没有快照。
	ErrSnapshotNotFound = errors.New("tree snapshot not found")
)

// SnapshotURLExpiry 是快照下载地址的有效期。
const SnapshotURLExpiry = time.Hour

// PageSearcher 是页面全文搜索的后端。
type PageSearcher interface {
	Search(ctx context.Context, project, query string, size int) ([]model.SearchHit, error)
}

// SnapshotStore 为已归档的模板树生成下载地址。
type SnapshotStore interface {
	SnapshotURL(ctx context.Context, project, branch string, expiry time.Duration) (string, error)
}

// SearchService 接口定义了页面搜索和模板树快照相关的操作。
type SearchService interface {
	Search(ctx context.Context, project, query string, size int) ([]model.SearchHit, error)
	SnapshotURL(ctx context.Context, site string) (string, error)
}

type searchService struct {
	searcher  PageSearcher
	snapshots SnapshotStore
	sites     *SiteRepositoryFactory
}

// NewSearchService 创建一个新的 SearchService 实例，searcher 或 snapshots 为 nil 时对应功能不可用。
func NewSearchService(searcher PageSearcher, snapshots SnapshotStore, sites *SiteRepositoryFactory) SearchService {
	return &searchService{searcher: searcher, snapshots: snapshots, sites: sites}
}

// Search 在页面索引中搜索，project 为空时搜索所有站点。
func (s *searchService) Search(ctx context.Context, project, query string, size int) ([]model.SearchHit, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.SearchHit{}, nil
	}
	hits, err := s.searcher.Search(ctx, project, query, size)
	if err != nil {
		return nil, err
	}
	log.Infof("搜索 '%s' (project=%s) 返回 %d 条结果", query, project, len(hits))
	return hits, nil
}

// SnapshotURL 返回站点默认分支上最近一次重建的快照地址。
func (s *searchService) SnapshotURL(ctx context.Context, site string) (string, error) {
	if s.snapshots == nil {
		return "", ErrSnapshotsDisabled
	}
	repo := s.sites.For(site)
	url, err := s.snapshots.SnapshotURL(ctx, repo.Name(), repo.Branch(), SnapshotURLExpiry)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return "", ErrSnapshotNotFound
	}
	return url, err
}
