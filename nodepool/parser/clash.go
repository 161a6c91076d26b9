package parser

import (
	"gopkg.in/yaml.v3"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
)

type clashDocument struct {
	Proxies []map[string]any `yaml:"proxies"`
}

// ParseClash reads the proxies list of a Clash configuration. Anything that is
// not a YAML mapping yields no nodes.
func ParseClash(content, source string) []*model.Node {
	var doc clashDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil || len(doc.Proxies) == 0 {
		return nil
	}

	l := logger.WithComponent("NodePool/Parser")
	nodes := make([]*model.Node, 0, len(doc.Proxies))
	for _, p := range doc.Proxies {
		if p == nil {
			continue
		}
		n := clashNode(p)
		n.Source = source
		nodes = append(nodes, n)
	}
	l.Debug().Str("source", source).Int("count", len(nodes)).Msg("Parsed Clash proxies.")
	return nodes
}

// clashNode keeps the proxy mapping as Config and lifts the fields the probes
// need. A bad port leaves Port at zero; the validator rejects such nodes.
func clashNode(p map[string]any) *model.Node {
	n := &model.Node{
		Type:   model.ParseNodeType(stringOf(p["type"])),
		Name:   stringOf(p["name"]),
		Server: stringOf(p["server"]),
		Config: p,
	}
	if port, err := parsePort(stringOf(p["port"])); err == nil {
		n.Port = port
	}

	switch n.Type {
	case model.TypeSS, model.TypeSSR:
		n.Method = stringOf(p["cipher"])
		n.Password = stringOf(p["password"])
	case model.TypeVMess:
		n.UUID = stringOf(p["uuid"])
		n.AlterID = stringOf(p["alterId"])
		n.Network = stringOf(p["network"])
	case model.TypeSOCKS5, model.TypeHTTP, model.TypeHTTPS:
		n.Username = stringOf(p["username"])
		n.Password = stringOf(p["password"])
		if n.Type == model.TypeHTTP {
			if tls, _ := p["tls"].(bool); tls {
				n.Type = model.TypeHTTPS
			}
		}
	}
	return n
}
