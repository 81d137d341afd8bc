// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "fmt"

// FileDownloadTask asks a worker to download one template file of a repository.
type FileDownloadTask struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	// Path is the file path inside the repository, e.g. "templates/index.html".
	Path string `json:"path"`
	SHA  string `json:"sha"`
}

// Key identifies the task for retry bookkeeping.
func (t FileDownloadTask) Key() string {
	return fmt.Sprintf("%s:%s:%s", t.Repository, t.Branch, t.Path)
}
