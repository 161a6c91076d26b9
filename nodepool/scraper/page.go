package scraper

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/parser"
)

// 页面中通常承载节点链接的元素。
const linkContainers = "pre, code, textarea"

// PageScraper 抓取公开的订阅页面或订阅链接。
type PageScraper struct {
	client *http.Client
	urls   []string
}

// NewPageScraper 创建一个新的 PageScraper 实例。
func NewPageScraper(urls []string, timeout time.Duration) *PageScraper {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PageScraper{
		client: &http.Client{Timeout: timeout},
		urls:   urls,
	}
}

// Name 返回抓取器的名称。
func (s *PageScraper) Name() string {
	return "pages"
}

// Scrape 执行抓取操作。单个页面失败只记录日志。
func (s *PageScraper) Scrape() ([]*model.Node, error) {
	l := logger.WithComponent("NodePool/Scraper")
	l.Info().Str("source", s.Name()).Int("pages", len(s.urls)).Msg("Starting scrape...")

	var nodes []*model.Node
	var errs []error
	for _, u := range s.urls {
		text, err := s.fetch(u)
		if err != nil {
			l.Warn().Err(err).Str("url", u).Str("source", s.Name()).Msg("Failed to fetch page.")
			errs = append(errs, err)
			continue
		}
		parsed := parser.ParseContent(text, u)
		l.Debug().Str("url", u).Int("count", len(parsed)).Msg("Page parsed.")
		nodes = append(nodes, parsed...)
	}

	if len(nodes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	l.Info().Int("count", len(nodes)).Str("source", s.Name()).Msg("Scrape finished.")
	return nodes, nil
}

// fetch 返回页面中可解析的文本。HTML 页面只取链接容器与锚点，其他内容原样返回。
func (s *PageScraper) fetch(u string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	doc.Find(linkContainers).Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
		b.WriteByte('\n')
	})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if isShareLink(href) {
			b.WriteString(href)
			b.WriteByte('\n')
		}
	})
	return b.String(), nil
}

func isShareLink(href string) bool {
	for _, prefix := range []string{"ss://", "ssr://", "vmess://"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}
