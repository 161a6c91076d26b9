package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"freenode_sieve/nodepool/model"
)

// Storage 接口定义了结果节点持久化的行为。
type Storage interface {
	Save(nodes []*model.Node) error
}

// Loader 由能读回上一次输出的存储实现。
type Loader interface {
	Load() ([]*model.Node, error)
}

// MultiStorage 依次写入所有后端，某个后端失败不影响其他后端。
type MultiStorage []Storage

func (m MultiStorage) Save(nodes []*model.Node) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(nodes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeFile 先写临时文件再重命名，避免读者看到写了一半的结果。
func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
