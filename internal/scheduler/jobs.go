package scheduler

import (
	"context"
	"errors"
	"fmt"

	"content-system-go/internal/fetcher"
	"content-system-go/internal/service"
	"content-system-go/pkg/log"
)

// TreeLoader 由 SiteRepositoryFactory 实现。
type TreeLoader interface {
	For(name string) *service.SiteRepository
}

// SiteLoadError 描述一个站点重建失败。Retryable 为 true 表示仓库暂时拉取失败，下一轮可能成功。
type SiteLoadError struct {
	Site      string
	Retryable bool
	Err       error
}

func (e *SiteLoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Site, e.Err)
}

func (e *SiteLoadError) Unwrap() error {
	return e.Err
}

// LoadSiteTrees 依次重建每个站点的模板树，单个站点失败不影响其他站点。
// 返回的错误由每个失败站点的 *SiteLoadError 组成。
func LoadSiteTrees(ctx context.Context, sites []string, loader TreeLoader) error {
	var errs []error
	for _, name := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		repo := loader.For(name)
		tree, err := repo.GetTree(ctx)
		if err != nil {
			loadErr := &SiteLoadError{Site: name, Retryable: fetcher.IsRetryable(err), Err: err}
			if loadErr.Retryable {
				log.Warnf("拉取 %s 失败，下一轮重试: %v", repo, err)
			} else {
				log.Errorf("重建 %s 的模板树失败: %v", repo, err)
			}
			errs = append(errs, loadErr)
			continue
		}
		log.Infof("%s 的模板树已重建，共 %d 个节点", repo, tree.Count())
	}
	return errors.Join(errs...)
}

// UpdateJiraStatuses 从 Jira 同步所有工单状态，没有配置 Jira 时什么也不做。
func UpdateJiraStatuses(ctx context.Context, jira service.JiraService) error {
	_, err := jira.SyncStatuses(ctx)
	if errors.Is(err, service.ErrJiraDisabled) {
		return nil
	}
	return err
}
