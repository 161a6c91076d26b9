package model

import (
	"net"
	"strconv"
	"strings"
)

// NodeType 是节点协议类型的封闭集合。
type NodeType string

const (
	TypeSS      NodeType = "ss"
	TypeSSR     NodeType = "ssr"
	TypeVMess   NodeType = "vmess"
	TypeSOCKS5  NodeType = "socks5"
	TypeHTTP    NodeType = "http"
	TypeHTTPS   NodeType = "https"
	TypeUnknown NodeType = "unknown"
)

// ParseNodeType 将任意字符串归一化为已知类型，无法识别的一律为 TypeUnknown。
func ParseNodeType(s string) NodeType {
	switch t := NodeType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeSS, TypeSSR, TypeVMess, TypeSOCKS5, TypeHTTP, TypeHTTPS:
		return t
	case "socks":
		return TypeSOCKS5
	default:
		return TypeUnknown
	}
}

// Node 是一个候选代理节点的规范表示，贯穿抓取、验证、测速、存储各阶段。
type Node struct {
	// 身份信息
	Type   NodeType `json:"type"`
	Name   string   `json:"name,omitempty"`
	Server string   `json:"server"`
	Port   int      `json:"port"`

	// 凭据 (按类型)
	Method   string `json:"method,omitempty"`   // ss
	Password string `json:"password,omitempty"` // ss / socks5 / http
	UUID     string `json:"uuid,omitempty"`     // vmess
	AlterID  string `json:"alterId,omitempty"`  // vmess
	Network  string `json:"network,omitempty"`  // vmess
	Username string `json:"username,omitempty"` // socks5 / http

	// 来源: Raw 为原始链接, Config 为结构化配置, 二者原样透传
	Raw    string         `json:"raw,omitempty"`
	Config map[string]any `json:"config,omitempty"`
	Source string         `json:"source,omitempty"`

	// 以下字段只由验证与测速阶段写入
	Validated       bool            `json:"validated"`
	StreamingAccess map[string]bool `json:"streaming_access,omitempty"`
	Speed           float64         `json:"speed"`   // KB/s
	SpeedOK         bool            `json:"speed_ok"`
}

// HasEndpoint 报告节点是否带有可拨号的 server 与合法端口。
func (n *Node) HasEndpoint() bool {
	return n != nil && strings.TrimSpace(n.Server) != "" && n.Port >= 1 && n.Port <= 65535
}

// Address 返回 host:port 形式的地址，IPv6 会加上方括号。
func (n *Node) Address() string {
	return net.JoinHostPort(strings.Trim(n.Server, "[]"), strconv.Itoa(n.Port))
}

// Key 是去重使用的身份标识 "server:port"。
func (n *Node) Key() string {
	return n.Server + ":" + strconv.Itoa(n.Port)
}

// Label 用于日志输出。
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name + "@" + n.Key()
	}
	return n.Key()
}

// Clone 返回一个深拷贝，各阶段在拷贝上写入派生字段。
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Config != nil {
		c.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			c.Config[k] = v
		}
	}
	if n.StreamingAccess != nil {
		c.StreamingAccess = make(map[string]bool, len(n.StreamingAccess))
		for k, v := range n.StreamingAccess {
			c.StreamingAccess[k] = v
		}
	}
	return &c
}
