package model

// PageDocument 是存储在 Elasticsearch 中的页面文档。
type PageDocument struct {
	ID          uint          `json:"id"`
	Project     string        `json:"project"`
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	Status      WebpageStatus `json:"status"`
	Owner       string        `json:"owner"`
	UpdatedAt   string        `json:"updated_at,omitempty"`
	// Generation 是写入该文档的重建批次，用来清理上一批次遗留的文档。
	Generation int64 `json:"generation"`
}

// SearchHit 是返回给前端的一条搜索结果。
type SearchHit struct {
	PageDocument
	Score float64 `json:"score"`
}
