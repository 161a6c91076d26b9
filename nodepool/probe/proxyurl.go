package probe

import (
	"encoding/base64"
	"net/url"

	"freenode_sieve/nodepool/model"
)

// BuildProxyURL maps a node to a proxy URL a generic HTTP client can use.
// It returns false when the node type has no such mapping or required fields
// are missing. The ss mapping is an approximation: credentials ride along as
// userinfo on an http:// proxy pointed at the node's port.
func BuildProxyURL(n *model.Node) (string, bool) {
	if n == nil || !n.HasEndpoint() {
		return "", false
	}

	switch n.Type {
	case model.TypeSS:
		if n.Method == "" || n.Password == "" {
			return "", false
		}
		auth := base64.StdEncoding.EncodeToString([]byte(n.Method + ":" + n.Password))
		u := &url.URL{Scheme: "http", User: url.User(auth), Host: n.Address()}
		return u.String(), true
	case model.TypeSOCKS5:
		return credentialURL("socks5", n), true
	case model.TypeHTTP, model.TypeHTTPS:
		return credentialURL(string(n.Type), n), true
	default:
		// vmess, ssr and unknown types are not speakable by net/http.
		return "", false
	}
}

func credentialURL(scheme string, n *model.Node) string {
	u := &url.URL{Scheme: scheme, Host: n.Address()}
	if n.Username != "" && n.Password != "" {
		u.User = url.UserPassword(n.Username, n.Password)
	}
	return u.String()
}
