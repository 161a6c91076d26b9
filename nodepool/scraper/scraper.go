package scraper

import "freenode_sieve/nodepool/model"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// Scraper 接口定义了从节点源抓取节点的行为。
type Scraper interface {
	// Scrape 执行抓取操作并返回解析出的节点。
	// 实现者只负责抓取和解析，不进行验证与去重。
	Scrape() ([]*model.Node, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}
