package storage

import (
	"fmt"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
)

const selectGroupName = "自动选择"

var defaultRules = []string{
	"DOMAIN-SUFFIX,local,DIRECT",
	"IP-CIDR,127.0.0.0/8,DIRECT",
	"GEOIP,CN,DIRECT",
	"MATCH," + selectGroupName,
}

type clashConfig struct {
	Port               int              `yaml:"port"`
	SocksPort          int              `yaml:"socks-port"`
	AllowLAN           bool             `yaml:"allow-lan"`
	Mode               string           `yaml:"mode"`
	LogLevel           string           `yaml:"log-level"`
	ExternalController string           `yaml:"external-controller"`
	Proxies            []map[string]any `yaml:"proxies"`
	ProxyGroups        []clashGroup     `yaml:"proxy-groups"`
	Rules              []string         `yaml:"rules"`
}

type clashGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Proxies []string `yaml:"proxies"`
}

// ClashStorage 将节点保存为可直接使用的 Clash 配置。
type ClashStorage struct {
	filePath string
	mu       sync.Mutex
}

// NewClashStorage 创建一个新的 ClashStorage 实例。
func NewClashStorage(filePath string) *ClashStorage {
	return &ClashStorage{filePath: filePath}
}

func (cs *ClashStorage) Save(nodes []*model.Node) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cfg := buildClashConfig(nodes)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode clash config: %w", err)
	}
	if err := writeFile(cs.filePath, data); err != nil {
		return fmt.Errorf("save %s: %w", cs.filePath, err)
	}
	l := logger.WithComponent("NodePool/Storage")
	l.Info().Int("count", len(cfg.Proxies)).Str("path", cs.filePath).Msg("Successfully saved Clash config.")
	return nil
}

func buildClashConfig(nodes []*model.Node) *clashConfig {
	cfg := &clashConfig{
		Port:               7890,
		SocksPort:          7891,
		Mode:               "rule",
		LogLevel:           "info",
		ExternalController: "127.0.0.1:9090",
		Proxies:            []map[string]any{},
		Rules:              defaultRules,
	}

	names := make(map[string]int, len(nodes))
	groupMembers := make([]string, 0, len(nodes))
	for _, n := range nodes {
		p := clashProxy(n)
		if p == nil {
			continue
		}
		name := uniqueName(names, fmt.Sprint(p["name"]))
		p["name"] = name
		if n.SpeedOK {
			p["speed"] = n.Speed
		}
		cfg.Proxies = append(cfg.Proxies, p)
		groupMembers = append(groupMembers, name)
	}
	cfg.ProxyGroups = []clashGroup{{Name: selectGroupName, Type: "select", Proxies: groupMembers}}
	return cfg
}

// clashProxy 复用来自 Clash 文档的配置；来自链接的节点按字段生成。
// 无法表示的节点返回 nil。
func clashProxy(n *model.Node) map[string]any {
	if !n.HasEndpoint() {
		return nil
	}
	if _, fromClash := n.Config["type"]; fromClash {
		p := make(map[string]any, len(n.Config)+1)
		for k, v := range n.Config {
			p[k] = v
		}
		if _, ok := p["name"]; !ok {
			p["name"] = n.Label()
		}
		return p
	}

	name := n.Name
	if name == "" {
		name = n.Key()
	}
	p := map[string]any{
		"name":   name,
		"server": n.Server,
		"port":   n.Port,
	}
	switch n.Type {
	case model.TypeSS:
		if n.Method == "" || n.Password == "" {
			return nil
		}
		p["type"] = "ss"
		p["cipher"] = n.Method
		p["password"] = n.Password
	case model.TypeVMess:
		if n.UUID == "" {
			return nil
		}
		alterID, _ := strconv.Atoi(n.AlterID)
		p["type"] = "vmess"
		p["uuid"] = n.UUID
		p["alterId"] = alterID
		p["cipher"] = "auto"
		if n.Network != "" {
			p["network"] = n.Network
		}
	case model.TypeSOCKS5, model.TypeHTTP, model.TypeHTTPS:
		p["type"] = "socks5"
		if n.Type != model.TypeSOCKS5 {
			p["type"] = "http"
			p["tls"] = n.Type == model.TypeHTTPS
		}
		if n.Username != "" {
			p["username"] = n.Username
			p["password"] = n.Password
		}
	default:
		return nil
	}
	return p
}

func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	if seen[name] == 1 {
		return name
	}
	candidate := fmt.Sprintf("%s-%d", name, seen[name])
	for seen[candidate] > 0 {
		seen[name]++
		candidate = fmt.Sprintf("%s-%d", name, seen[name])
	}
	seen[candidate] = 1
	return candidate
}
