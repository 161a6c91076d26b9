package parser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"freenode_sieve/nodepool/model"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported link scheme")
	ErrMalformedLink     = errors.New("malformed link")
)

// ParseLink parses a single share link. The returned node keeps the link in Raw.
func ParseLink(link string) (*model.Node, error) {
	link = strings.TrimSpace(link)
	scheme, rest, ok := strings.Cut(link, "://")
	if !ok {
		return nil, ErrUnsupportedScheme
	}

	var (
		n   *model.Node
		err error
	)
	switch strings.ToLower(scheme) {
	case "ss":
		n, err = parseSS(rest)
	case "ssr":
		n, err = parseSSR(rest)
	case "vmess":
		n, err = parseVMess(rest)
	case "socks5", "socks", "http", "https":
		n, err = parsePlain(link)
	default:
		return nil, ErrUnsupportedScheme
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedLink, scheme, err)
	}
	n.Raw = link
	return n, nil
}

// parseSS accepts SIP002 (base64 or plain userinfo before '@') and the legacy
// form with everything base64-encoded.
func parseSS(rest string) (*model.Node, error) {
	rest, frag, _ := strings.Cut(rest, "#")
	rest, _, _ = strings.Cut(rest, "?")
	rest = strings.TrimSuffix(rest, "/")
	name, _ := url.PathUnescape(frag)

	var userinfo, hostport string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo, hostport = rest[:at], rest[at+1:]
		if decoded, err := decodeBase64(userinfo); err == nil && strings.Contains(string(decoded), ":") {
			userinfo = string(decoded)
		} else if plain, err := url.PathUnescape(userinfo); err == nil {
			userinfo = plain
		}
	} else {
		decoded, err := decodeBase64(rest)
		if err != nil {
			return nil, err
		}
		s := string(decoded)
		at := strings.LastIndex(s, "@")
		if at < 0 {
			return nil, errors.New("missing '@'")
		}
		userinfo, hostport = s[:at], s[at+1:]
	}

	method, password, ok := strings.Cut(userinfo, ":")
	if !ok || method == "" || password == "" {
		return nil, errors.New("missing method or password")
	}
	server, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	return &model.Node{
		Type:     model.TypeSS,
		Name:     strings.TrimSpace(name),
		Server:   server,
		Port:     port,
		Method:   method,
		Password: password,
	}, nil
}

// parseSSR decodes server:port:protocol:method:obfs:base64(password)/?params.
func parseSSR(rest string) (*model.Node, error) {
	decoded, err := decodeBase64(rest)
	if err != nil {
		return nil, err
	}
	body, query, _ := strings.Cut(string(decoded), "/?")
	parts := strings.Split(body, ":")
	if len(parts) < 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	// The host may itself contain ':' (IPv6), so fields are taken from the right.
	k := len(parts)
	server := strings.Join(parts[:k-5], ":")
	port, err := parsePort(parts[k-5])
	if err != nil {
		return nil, err
	}
	if server == "" {
		return nil, errors.New("empty server")
	}
	n := &model.Node{
		Type:   model.TypeSSR,
		Server: server,
		Port:   port,
		Method: parts[k-3],
		Config: map[string]any{
			"protocol": parts[k-4],
			"cipher":   parts[k-3],
			"obfs":     parts[k-2],
		},
	}
	if pw, err := decodeBase64(parts[k-1]); err == nil {
		n.Password = string(pw)
	}
	if values, err := url.ParseQuery(query); err == nil {
		if remarks, err := decodeBase64(values.Get("remarks")); err == nil {
			n.Name = string(remarks)
		}
	}
	return n, nil
}

func parseVMess(rest string) (*model.Node, error) {
	decoded, err := decodeBase64(rest)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(decoded, &cfg); err != nil {
		return nil, err
	}
	server := stringOf(cfg["add"])
	port, err := parsePort(stringOf(cfg["port"]))
	if err != nil {
		return nil, err
	}
	if server == "" {
		return nil, errors.New("empty server")
	}
	network := stringOf(cfg["net"])
	if network == "" {
		network = "tcp"
	}
	return &model.Node{
		Type:    model.TypeVMess,
		Name:    stringOf(cfg["ps"]),
		Server:  server,
		Port:    port,
		UUID:    stringOf(cfg["id"]),
		AlterID: stringOf(cfg["aid"]),
		Network: network,
		Config:  cfg,
	}, nil
}

// parsePlain handles scheme://[user:pass@]host:port with no path.
func parsePlain(link string) (*model.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("unexpected path")
	}
	if u.Port() == "" {
		return nil, errors.New("missing port")
	}
	port, err := parsePort(u.Port())
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, errors.New("empty server")
	}
	n := &model.Node{
		Type:   model.ParseNodeType(u.Scheme),
		Server: u.Hostname(),
		Port:   port,
	}
	if u.User != nil {
		n.Username = u.User.Username()
		n.Password, _ = u.User.Password()
	}
	n.Name, _ = url.PathUnescape(u.Fragment)
	return n, nil
}

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, errors.New("empty server")
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}

// decodeBase64 accepts the standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty base64 payload")
	}
	s = strings.TrimRight(s, "=")
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// stringOf renders the scalar values found in vmess JSON and Clash YAML.
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
