package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
)

// JSONStorage 将完整的节点记录保存为缩进的 JSON 数组。
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewJSONStorage 创建一个新的 JSONStorage 实例。
func NewJSONStorage(filePath string) *JSONStorage {
	return &JSONStorage{filePath: filePath}
}

func (js *JSONStorage) Save(nodes []*model.Node) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if nodes == nil {
		nodes = []*model.Node{}
	}
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	if err := writeFile(js.filePath, data); err != nil {
		return fmt.Errorf("save %s: %w", js.filePath, err)
	}
	l := logger.WithComponent("NodePool/Storage")
	l.Info().Int("count", len(nodes)).Str("path", js.filePath).Msg("Successfully saved nodes to JSON file.")
	return nil
}

// Load 读取上一次保存的节点。文件不存在时返回空列表。
func (js *JSONStorage) Load() ([]*model.Node, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	l := logger.WithComponent("NodePool/Storage")

	data, err := os.ReadFile(js.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", js.filePath).Msg("Node data file not found, starting with an empty pool.")
			return nil, nil
		}
		return nil, err
	}

	var nodes []*model.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode %s: %w", js.filePath, err)
	}
	l.Info().Int("count", len(nodes)).Msg("Successfully loaded nodes from file.")
	return nodes, nil
}
