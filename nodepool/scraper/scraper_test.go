package scraper

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"freenode_sieve/internal/shared/types"
)

const (
	ssLink    = "ss://YWVzLTI1Ni1nY206cGFzczEyMw==@1.2.3.4:8388#a"
	socksLink = "socks5://2.2.2.2:1080"
)

// fakeGitHub serves the tree and contents endpoints for a single repository.
type fakeGitHub struct {
	mu         sync.Mutex
	branch     string
	files      map[string]string
	authHeader string
	requested  []string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requested = append(f.requested, r.URL.Path)
	if h := r.Header.Get("Authorization"); h != "" {
		f.authHeader = h
	}
	f.mu.Unlock()

	const prefix = "/repos/owner/repo/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case rest == "git/trees/"+f.branch:
		var tree treeResponse
		for p := range f.files {
			tree.Tree = append(tree.Tree, struct {
				Path string `json:"path"`
				Type string `json:"type"`
			}{Path: p, Type: "blob"})
		}
		tree.Tree = append(tree.Tree, struct {
			Path string `json:"path"`
			Type string `json:"type"`
		}{Path: "docs", Type: "tree"})
		json.NewEncoder(w).Encode(tree)
	case strings.HasPrefix(rest, "contents/"):
		content, ok := f.files[strings.TrimPrefix(rest, "contents/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(content))
		// GitHub wraps base64 content at 60 columns.
		if len(encoded) > 60 {
			encoded = encoded[:60] + "\n" + encoded[60:]
		}
		json.NewEncoder(w).Encode(contentResponse{Encoding: "base64", Content: encoded})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGitHub) requestedPath(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requested {
		if r == p {
			return true
		}
	}
	return false
}

func newGitHubScraper(srv *httptest.Server, token string) *GitHubScraper {
	return NewGitHubScraper(types.CrawlerConf{
		GithubRepos:     []string{"owner/repo"},
		GithubAPI:       srv.URL,
		GithubToken:     token,
		MaxFilesPerRepo: 10,
		RequestTimeout:  5,
	})
}

func TestGitHubScraper_FallsBackToMaster(t *testing.T) {
	gh := &fakeGitHub{
		branch: "master",
		files: map[string]string{
			"sub/list.txt": ssLink + "\n" + socksLink + "\n",
			"clash.yaml":   "proxies:\n  - {name: a, type: ss, server: 9.9.9.9, port: 443, cipher: aes-128-gcm, password: x}\n",
			"README.md":    ssLink,
		},
	}
	srv := httptest.NewServer(gh)
	defer srv.Close()

	nodes, err := newGitHubScraper(srv, "secret").Scrape()
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("Scrape() returned %d nodes, want 3", len(nodes))
	}
	if !gh.requestedPath("/repos/owner/repo/git/trees/main") {
		t.Error("main branch was not tried first")
	}
	if gh.requestedPath("/repos/owner/repo/contents/README.md") {
		t.Error("non-candidate file was fetched")
	}
	if gh.authHeader != "token secret" {
		t.Errorf("Authorization = %q, want token header", gh.authHeader)
	}
	sources := map[string]bool{}
	for _, n := range nodes {
		sources[n.Source] = true
	}
	if !sources["owner/repo/sub/list.txt"] || !sources["owner/repo/clash.yaml"] {
		t.Errorf("unexpected node sources %v", sources)
	}
}

func TestGitHubScraper_AllReposFailing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	nodes, err := newGitHubScraper(srv, "").Scrape()
	if err == nil {
		t.Fatalf("Scrape() = %d nodes, want an error", len(nodes))
	}
}

func TestCandidatePaths(t *testing.T) {
	got := candidatePaths([]string{"clash.yaml", "a.txt", "b.txt", "c.txt"}, 2)
	if got[0] != "clash.yaml" || len(got) != len(commonPaths)+1 {
		t.Errorf("candidatePaths() = %v", got)
	}
	if got[len(got)-1] != "a.txt" {
		t.Errorf("last candidate = %q, want a.txt", got[len(got)-1])
	}
}

func TestPageScraper(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body>
<p>` + socksLink + ` outside containers is ignored</p>
<pre>` + ssLink + `</pre>
<a href="ss://YWVzLTI1Ni1nY206cGFzczEyMw==@5.5.5.5:8388">copy</a>
</body></html>`))
	})
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(base64.StdEncoding.EncodeToString([]byte(socksLink + "\n"))))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewPageScraper([]string{srv.URL + "/page", srv.URL + "/sub", srv.URL + "/gone"}, 0)
	nodes, err := s.Scrape()
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	keys := map[string]bool{}
	for _, n := range nodes {
		keys[n.Key()] = true
	}
	want := []string{"1.2.3.4:8388", "5.5.5.5:8388", "2.2.2.2:1080"}
	if len(nodes) != len(want) {
		t.Fatalf("Scrape() returned %v, want %v", keys, want)
	}
	for _, k := range want {
		if !keys[k] {
			t.Errorf("missing node %s", k)
		}
	}
}

func TestPageScraper_AllFailing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewPageScraper([]string{srv.URL}, 0).Scrape(); err == nil {
		t.Fatal("Scrape() error = nil, want failure")
	}
}
