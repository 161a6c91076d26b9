package scraper

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/parser"
)

// 仓库中常见的订阅文件路径，无论目录树里是否列出都会尝试。
var commonPaths = []string{
	"clash.yaml", "clash.yml", "config.yaml", "config.yml",
	"proxies.yaml", "proxies.yml", "sub.yaml", "sub.yml",
	"nodes.txt", "free.txt", "proxy.txt",
}

var candidateExts = []string{".yaml", ".yml", ".txt", ".json"}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
}

type contentResponse struct {
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GitHubScraper 通过 GitHub REST API 抓取仓库中的订阅文件。
type GitHubScraper struct {
	collector *colly.Collector
	apiBase   string
	token     string
	repos     []string
	maxFiles  int
}

// NewGitHubScraper 创建一个新的 GitHubScraper 实例。
func NewGitHubScraper(cfg types.CrawlerConf) *GitHubScraper {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.SetRequestTimeout(timeout)

	apiBase := strings.TrimRight(cfg.GithubAPI, "/")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	maxFiles := cfg.MaxFilesPerRepo
	if maxFiles <= 0 {
		maxFiles = 10
	}
	return &GitHubScraper{
		collector: c,
		apiBase:   apiBase,
		token:     cfg.GithubToken,
		repos:     cfg.GithubRepos,
		maxFiles:  maxFiles,
	}
}

// Name 返回抓取器的名称。
func (s *GitHubScraper) Name() string {
	return "github"
}

// Scrape 依次抓取每个仓库。只有全部仓库都失败时才返回错误。
func (s *GitHubScraper) Scrape() ([]*model.Node, error) {
	l := logger.WithComponent("NodePool/Scraper")
	l.Info().Str("source", s.Name()).Int("repos", len(s.repos)).Msg("Starting scrape...")

	var nodes []*model.Node
	var errs []error
	for _, repo := range s.repos {
		repoNodes, err := s.scrapeRepo(repo)
		if err != nil {
			l.Warn().Err(err).Str("repo", repo).Msg("Failed to scrape repository.")
			errs = append(errs, err)
			continue
		}
		nodes = append(nodes, repoNodes...)
	}

	if len(nodes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	l.Info().Int("count", len(nodes)).Str("source", s.Name()).Msg("Scrape finished.")
	return nodes, nil
}

func (s *GitHubScraper) scrapeRepo(repo string) ([]*model.Node, error) {
	l := logger.WithComponent("NodePool/Scraper")

	files, err := s.listFiles(repo)
	if err != nil {
		// 目录树不可用时仍然尝试常见路径
		l.Debug().Err(err).Str("repo", repo).Msg("Could not list repository tree.")
	}

	var nodes []*model.Node
	fetched := 0
	for _, p := range candidatePaths(files, s.maxFiles) {
		content, err := s.fileContent(repo, p)
		if err != nil {
			l.Debug().Err(err).Str("repo", repo).Str("path", p).Msg("Skipping file.")
			continue
		}
		fetched++
		parsed := parser.ParseContent(content, repo+"/"+p)
		if len(parsed) > 0 {
			l.Info().Str("repo", repo).Str("path", p).Int("count", len(parsed)).Msg("Parsed nodes from file.")
		}
		nodes = append(nodes, parsed...)
	}

	if fetched == 0 && err != nil {
		return nil, fmt.Errorf("repository %s: %w", repo, err)
	}
	return nodes, nil
}

// listFiles 返回仓库目录树中的候选文件，main 分支不存在时回退到 master。
func (s *GitHubScraper) listFiles(repo string) ([]string, error) {
	var tree treeResponse
	var err error
	for _, branch := range []string{"main", "master"} {
		u := fmt.Sprintf("%s/repos/%s/git/trees/%s?recursive=1", s.apiBase, repo, branch)
		if err = s.getJSON(u, &tree); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, item := range tree.Tree {
		if item.Type != "blob" {
			continue
		}
		ext := strings.ToLower(path.Ext(item.Path))
		for _, want := range candidateExts {
			if ext == want {
				files = append(files, item.Path)
				break
			}
		}
	}
	return files, nil
}

func (s *GitHubScraper) fileContent(repo, filePath string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/contents/%s", s.apiBase, repo, escapePath(filePath))
	var resp contentResponse
	if err := s.getJSON(u, &resp); err != nil {
		return "", err
	}
	if resp.Encoding != "base64" {
		return "", fmt.Errorf("unexpected content encoding %q", resp.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(resp.Content))
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}
	return string(raw), nil
}

// getJSON 用克隆的 collector 同步请求 u 并解析 JSON 响应。
func (s *GitHubScraper) getJSON(u string, out any) error {
	c := s.collector.Clone()
	var respErr error

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/vnd.github+json")
		if s.token != "" {
			r.Headers.Set("Authorization", "token "+s.token)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		if err := json.Unmarshal(r.Body, out); err != nil {
			respErr = fmt.Errorf("decode %s: %w", u, err)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		respErr = fmt.Errorf("GET %s: status %d: %w", u, r.StatusCode, err)
	})

	if err := c.Visit(u); err != nil && respErr == nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	return respErr
}

// candidatePaths 合并常见路径与目录树中的前 max 个文件并去重。
func candidatePaths(treeFiles []string, max int) []string {
	if len(treeFiles) > max {
		treeFiles = treeFiles[:max]
	}
	seen := make(map[string]struct{}, len(commonPaths)+len(treeFiles))
	out := make([]string, 0, len(commonPaths)+len(treeFiles))
	for _, p := range append(append([]string{}, commonPaths...), treeFiles...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
