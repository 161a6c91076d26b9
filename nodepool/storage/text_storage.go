package storage

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/parser"
)

const textHeader = "# 免费节点列表 - 自动更新\n# 来源: GitHub 自动爬取\n\n"

// TextStorage 将节点保存为每行一个分享链接的纯文本文件。
type TextStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewTextStorage 创建一个新的 TextStorage 实例。
func NewTextStorage(filePath string) *TextStorage {
	return &TextStorage{filePath: filePath}
}

// Save 优先写原始链接；没有原始链接的 ss 节点生成 SIP002 格式的 ss:// 链接，其余节点跳过。
func (ts *TextStorage) Save(nodes []*model.Node) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	l := logger.WithComponent("NodePool/Storage")

	var sb strings.Builder
	sb.WriteString(textHeader)
	written := 0
	for _, n := range nodes {
		if line := formatTextLine(n); line != "" {
			sb.WriteString(line)
			written++
		}
	}

	if err := writeFile(ts.filePath, []byte(sb.String())); err != nil {
		return fmt.Errorf("save %s: %w", ts.filePath, err)
	}
	l.Info().Int("count", written).Str("path", ts.filePath).Msg("Successfully saved nodes to text file.")
	return nil
}

// Load 重新解析文本文件中的链接。文件不存在时返回空列表。
func (ts *TextStorage) Load() ([]*model.Node, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	data, err := os.ReadFile(ts.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parser.ParseLinks(string(data), ts.filePath), nil
}

func formatTextLine(n *model.Node) string {
	if n.Raw != "" {
		return n.Raw + "\n"
	}
	if n.Type == model.TypeSS && n.HasEndpoint() {
		name := n.Name
		if name == "" {
			name = n.Server
		}
		userinfo := base64.RawURLEncoding.EncodeToString([]byte(n.Method + ":" + n.Password))
		return fmt.Sprintf("# %s\nss://%s@%s\n", name, userinfo, n.Address())
	}
	return ""
}
