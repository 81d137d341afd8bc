// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"content-system-go/internal/config"
	"content-system-go/internal/model"
	"content-system-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// NewClient 按配置创建一个 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(client, esCfg.IndexName)
}

// pageMapping 是页面索引的字段定义。
const pageMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "long" },
			"project": { "type": "keyword" },
			"name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"title": { "type": "text" },
			"description": { "type": "text" },
			"url": { "type": "keyword" },
			"status": { "type": "keyword" },
			"owner": { "type": "keyword" },
			"updated_at": { "type": "date" },
			"generation": { "type": "long" }
		}
	}
}`

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	created, err := client.Indices.Create(indexName, client.Indices.Create.WithBody(strings.NewReader(pageMapping)))
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// Indexer 把模板树中的页面写入页面索引并提供搜索。
type Indexer struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
}

// NewIndexer 创建一个使用指定索引的 Indexer。
func NewIndexer(client *elasticsearch.Client, index string) *Indexer {
	return &Indexer{client: client, index: index, now: time.Now}
}

// Documents 把模板树展开成页面文档，跳过没有页面记录的节点。
func Documents(project string, tree *model.TreeNode, generation int64) []model.PageDocument {
	var docs []model.PageDocument
	tree.Walk(func(node *model.TreeNode) bool {
		if node.ID == 0 {
			return true
		}
		doc := model.PageDocument{
			ID:          node.ID,
			Project:     project,
			Name:        node.Name,
			Title:       node.Title,
			Description: node.Description,
			URL:         node.URL,
			Status:      node.Status,
			UpdatedAt:   node.UpdatedAt,
			Generation:  generation,
		}
		if node.Owner != nil {
			doc.Owner = node.Owner.Name
		}
		docs = append(docs, doc)
		return true
	})
	return docs
}

func documentID(doc model.PageDocument) string {
	return fmt.Sprintf("%s-%d", doc.Project, doc.ID)
}

// IndexTree 用一次 bulk 请求写入项目的全部页面，然后删除上一批次遗留的文档。
func (i *Indexer) IndexTree(ctx context.Context, project string, tree *model.TreeNode) error {
	generation := i.now().UnixNano()
	docs := Documents(project, tree, generation)
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		meta := map[string]interface{}{"index": map[string]string{"_index": i.index, "_id": documentID(doc)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := esapi.BulkRequest{Index: i.index, Body: &body, Refresh: "true"}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk 写入时 Elasticsearch 返回错误: %s", res.String())
	}
	var bulk struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulk.Errors {
		return errors.New("部分页面未能写入索引")
	}

	if err := i.deleteStale(ctx, project, generation); err != nil {
		log.Warnf("清理 %s 的旧索引文档失败: %v", project, err)
	}
	log.Infof("项目 %s 的 %d 个页面已写入索引", project, len(docs))
	return nil
}

func (i *Indexer) deleteStale(ctx context.Context, project string, generation int64) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"project": project}},
					map[string]interface{}{"range": map[string]interface{}{"generation": map[string]interface{}{"lt": generation}}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}
	res, err := i.client.DeleteByQuery([]string{i.index}, &buf, i.client.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete_by_query 返回错误: %s", res.String())
	}
	return nil
}

// Search 在 name/title/description 中搜索页面，project 为空时搜索所有项目。
func (i *Indexer) Search(ctx context.Context, project, query string, size int) ([]model.SearchHit, error) {
	if size <= 0 {
		size = 20
	}
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^3", "name^2", "description"},
			},
		},
	}
	if project != "" {
		boolQuery["filter"] = map[string]interface{}{"term": map[string]interface{}{"project": project}}
	}
	body := map[string]interface{}{"size": size, "query": map[string]interface{}{"bool": boolQuery}}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("搜索请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("搜索时 Elasticsearch 返回错误: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.PageDocument `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析搜索响应失败: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{PageDocument: hit.Source, Score: hit.Score})
	}
	return hits, nil
}
