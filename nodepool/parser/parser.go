// Package parser turns subscription documents into node records.
package parser

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
)

// Bare http(s)://host:port URLs count as HTTP proxies; parsePlain drops any URL
// carrying a path, so ordinary page links are not turned into nodes.
var linkPattern = regexp.MustCompile("(?i)\\b(?:ssr|ss|vmess|socks5|socks|https?)://[^\\s\"'<>`]+")

// ParseContent extracts every node it can find in content: Clash proxies
// first, then share links. A body that is a single base64 blob is decoded
// before scanning. Entries that fail to parse are skipped.
func ParseContent(content, source string) []*model.Node {
	s := strings.TrimSpace(strings.TrimPrefix(content, "\uFEFF"))
	if s == "" {
		return nil
	}
	if !strings.Contains(s, "://") && !strings.Contains(s, "proxies:") {
		if decoded, err := decodeBase64(stripSpace(s)); err == nil && utf8.Valid(decoded) {
			s = strings.TrimSpace(string(decoded))
		}
	}

	nodes := ParseClash(s, source)
	nodes = append(nodes, ParseLinks(s, source)...)
	return nodes
}

// ParseLinks scans text for share links and parses each one.
func ParseLinks(text, source string) []*model.Node {
	l := logger.WithComponent("NodePool/Parser")
	var nodes []*model.Node
	for _, link := range linkPattern.FindAllString(text, -1) {
		n, err := ParseLink(link)
		if err != nil {
			if !errors.Is(err, ErrUnsupportedScheme) {
				l.Debug().Err(err).Str("source", source).Str("link", truncate(link, 80)).Msg("Skipping malformed link.")
			}
			continue
		}
		n.Source = source
		nodes = append(nodes, n)
	}
	return nodes
}

// Dedup keeps the first node for every server:port. Nodes without an
// endpoint are deduplicated by their raw link instead.
func Dedup(nodes []*model.Node) []*model.Node {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		key := n.Key()
		if !n.HasEndpoint() {
			key = "raw|" + n.Raw + "|" + key
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

func stripSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
