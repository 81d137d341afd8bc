// Package scanner 把站点仓库的 templates 目录解析为一棵模板树。
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"content-system-go/internal/model"
)

var (
	titleBlock       = regexp.MustCompile(`(?s)\{%\s*block\s+title\s*%\}(.*?)\{%\s*endblock`)
	descriptionBlock = regexp.MustCompile(`(?s)\{%\s*block\s+meta_description\s*%\}(.*?)\{%\s*endblock`)
	copyDocBlock     = regexp.MustCompile(`(?s)\{%\s*block\s+meta_copydoc\s*%\}(.*?)\{%\s*endblock`)
)

// pageExts 是会被当作页面的文件扩展名。
var pageExts = map[string]bool{".html": true, ".md": true}

// metadata 是从模板中读取的页面元信息。
type metadata struct {
	title       string
	description string
	link        string
}

// ScanDirectory 扫描 root 目录并返回模板树。根节点的 name 为 "/"，
// 其余节点的 name 是相对 root 的路径（不含扩展名），例如 "/guides/install"。
// root 不存在时返回错误；空目录会被当作没有元信息的叶子页面。
func ScanDirectory(root string) (*model.TreeNode, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("无法访问模板目录 %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", root)
	}
	return scanDir(root, "/")
}

func scanDir(dir, name string) (*model.TreeNode, error) {
	node := model.NewTreeNode(name)
	node.Ext = model.DirExt
	node.FilePath = dir

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取目录 %s 失败: %w", dir, err)
	}

	for _, entry := range entries {
		entryName := entry.Name()
		if strings.HasPrefix(entryName, "_") || strings.HasPrefix(entryName, ".") {
			continue
		}
		path := filepath.Join(dir, entryName)
		childName := joinName(name, entryName)

		if entry.IsDir() {
			child, err := scanDir(path, childName)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			continue
		}

		ext := filepath.Ext(entryName)
		if !pageExts[ext] {
			continue
		}
		base := strings.TrimSuffix(entryName, ext)
		meta, err := readMetadata(path)
		if err != nil {
			return nil, err
		}
		if base == "index" {
			// 目录的元信息来自它的 index 模板
			node.Title, node.Description, node.Link = meta.title, meta.description, meta.link
			node.FilePath = path
			continue
		}
		child := model.NewTreeNode(joinName(name, base))
		child.Title, child.Description, child.Link = meta.title, meta.description, meta.link
		child.Ext = ext
		child.FilePath = path
		node.Children = append(node.Children, child)
	}

	sort.SliceStable(node.Children, func(i, j int) bool {
		return node.Children[i].Name < node.Children[j].Name
	})
	return node, nil
}

func joinName(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}

func readMetadata(path string) (metadata, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return metadata{}, fmt.Errorf("读取模板 %s 失败: %w", path, err)
	}
	return metadata{
		title:       extract(titleBlock, content),
		description: extract(descriptionBlock, content),
		link:        extract(copyDocBlock, content),
	}, nil
}

func extract(re *regexp.Regexp, content []byte) string {
	m := re.FindSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(string(m[1])), " ")
}
