package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"freenode_sieve/internal/shared/logger"
	"freenode_sieve/internal/shared/types"
	"freenode_sieve/nodepool/model"
	"freenode_sieve/nodepool/parser"
	"freenode_sieve/nodepool/pipeline"
	"freenode_sieve/nodepool/scraper"
	"freenode_sieve/nodepool/storage"
)

// ErrRunInProgress is returned by RunOnce while another cycle is running.
var ErrRunInProgress = errors.New("a run is already in progress")

// OutcomeNoInput marks a cycle in which the scrapers found nothing.
const OutcomeNoInput pipeline.Outcome = "no-input"

// RunSummary 描述一次完整的 抓取 -> 验证 -> 测速 -> 存储 周期。
type RunSummary struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Scraped        int              `json:"scraped"`
	Unique         int              `json:"unique"`
	Validated      int              `json:"validated"`
	Accepted       int              `json:"accepted"`
	Outcome        pipeline.Outcome `json:"outcome"`
	StreamingStats map[string]int   `json:"streaming_stats,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Runner 是流水线的抽象，便于测试替换。
type Runner interface {
	Run(ctx context.Context, nodes []*model.Node) (*pipeline.Report, error)
}

// Notifier 接收周期开始与结束事件。
type Notifier interface {
	RunStarted(runID string)
	RunFinished(summary RunSummary)
}

// Manager 是节点池模块的总控制器。
type Manager struct {
	cfg      *types.Config
	pipeline Runner
	storage  storage.Storage
	previous storage.Loader
	scrapers []scraper.Scraper
	notifier Notifier

	mu       sync.RWMutex
	last     *RunSummary
	accepted []*model.Node
	running  atomic.Bool

	// 调度器与生命周期管理
	ticker   *time.Ticker
	stopChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager 创建并初始化节点池管理器。
func NewManager(cfg *types.Config, runner Runner, store storage.Storage) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		pipeline: runner,
		storage:  store,
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewFromConfig 按配置组装抓取器、流水线与输出文件。
func NewFromConfig(cfg *types.Config) *Manager {
	out := cfg.OutputConf
	jsonStore := storage.NewJSONStorage(filepath.Join(out.Dir, out.JSONFile))
	stores := storage.MultiStorage{
		storage.NewTextStorage(filepath.Join(out.Dir, out.TextFile)),
		jsonStore,
	}
	if out.ClashFile != "" {
		stores = append(stores, storage.NewClashStorage(filepath.Join(out.Dir, out.ClashFile)))
	}

	m := NewManager(cfg, pipeline.NewFromConfig(cfg), stores)
	if out.Revalidate {
		m.SetPrevious(jsonStore)
	}
	if len(cfg.CrawlerConf.GithubRepos) > 0 {
		m.AddScraper(scraper.NewGitHubScraper(cfg.CrawlerConf))
	}
	if len(cfg.CrawlerConf.PageURLs) > 0 {
		timeout := time.Duration(cfg.CrawlerConf.RequestTimeout) * time.Second
		m.AddScraper(scraper.NewPageScraper(cfg.CrawlerConf.PageURLs, timeout))
	}
	return m
}

// AddScraper 添加一个抓取器到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

// SetPrevious 设置上一次输出的来源，其中的节点会与新抓取的节点一起重新验证。
func (m *Manager) SetPrevious(l storage.Loader) {
	m.previous = l
}

func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// RunOnce 执行一个完整周期。抓取不到任何节点时返回 pipeline.ErrNoInput，
// 其余空结果只体现在 summary.Outcome 中。
func (m *Manager) RunOnce(ctx context.Context) (*RunSummary, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer m.running.Store(false)

	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}
	base := logger.WithComponent("NodePool/Manager")
	l := base.With().Str("run_id", summary.RunID).Logger()
	l.Info().Msg("Starting new scrape, validate and speed test cycle...")
	if m.notifier != nil {
		m.notifier.RunStarted(summary.RunID)
	}

	scraped := m.scrapeAll()
	summary.Scraped = len(scraped)
	l.Info().Int("count", len(scraped)).Msg("Scraping finished.")

	candidates := append(scraped, m.loadPrevious()...)
	candidates = parser.Dedup(candidates)
	summary.Unique = len(candidates)
	l.Info().Int("unique", len(candidates)).Msg("Deduplicated candidate nodes.")

	report, err := m.pipeline.Run(ctx, candidates)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoInput) {
			l.Warn().Msg("No nodes scraped. Check network connectivity and repository configuration.")
			summary.Outcome = OutcomeNoInput
		}
		summary.Error = err.Error()
		m.finish(summary, nil)
		return summary, err
	}

	summary.Validated = report.Validated
	summary.Accepted = report.Accepted
	summary.Outcome = report.Outcome
	summary.StreamingStats = report.StreamingStats

	var accepted []*model.Node
	if report.Outcome == pipeline.OutcomeOK {
		accepted = report.Nodes
		if err := m.storage.Save(report.Nodes); err != nil {
			l.Error().Err(err).Msg("Failed to save nodes to storage.")
			summary.Error = err.Error()
		}
		logStreamingStats(l, report.StreamingStats)
	}

	l.Info().
		Int("scraped", summary.Scraped).
		Int("validated", summary.Validated).
		Int("accepted", summary.Accepted).
		Str("outcome", string(summary.Outcome)).
		Msg("Cycle finished.")
	m.finish(summary, accepted)
	return summary, nil
}

// scrapeAll 并发运行所有抓取器，单个抓取器失败只记录日志。
func (m *Manager) scrapeAll() []*model.Node {
	l := logger.WithComponent("NodePool/Manager")

	var wg sync.WaitGroup
	results := make([][]*model.Node, len(m.scrapers))
	for i, s := range m.scrapers {
		wg.Add(1)
		go func(idx int, sc scraper.Scraper) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.Error().Interface("panic", r).Str("source", sc.Name()).Msg("Scraper panicked.")
				}
			}()
			nodes, err := sc.Scrape()
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed.")
				return
			}
			results[idx] = nodes
		}(i, s)
	}
	wg.Wait()

	var all []*model.Node
	for _, nodes := range results {
		all = append(all, nodes...)
	}
	return all
}

// loadPrevious 读取上一次的输出并清除其派生字段。
func (m *Manager) loadPrevious() []*model.Node {
	if m.previous == nil {
		return nil
	}
	l := logger.WithComponent("NodePool/Manager")
	nodes, err := m.previous.Load()
	if err != nil {
		l.Warn().Err(err).Msg("Failed to load previous nodes, skipping re-validation.")
		return nil
	}
	out := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		c := n.Clone()
		c.Validated = false
		c.StreamingAccess = nil
		c.Speed = 0
		c.SpeedOK = false
		if c.Source == "" {
			c.Source = "previous"
		}
		out = append(out, c)
	}
	l.Info().Int("count", len(out)).Msg("Loaded previous nodes for re-validation.")
	return out
}

func (m *Manager) finish(summary *RunSummary, accepted []*model.Node) {
	summary.FinishedAt = time.Now()
	m.mu.Lock()
	s := *summary
	m.last = &s
	if accepted != nil {
		m.accepted = accepted
	}
	m.mu.Unlock()
	if m.notifier != nil {
		m.notifier.RunFinished(s)
	}
}

func logStreamingStats(l zerolog.Logger, stats map[string]int) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l.Info().Str("target", name).Int("accessible", stats[name]).Msg("Streaming access statistics.")
	}
}

// Start 启动调度循环并立即执行一次周期。interval 不大于 0 时只运行一次。
func (m *Manager) Start() {
	l := logger.WithComponent("NodePool/Manager")
	interval := time.Duration(m.cfg.ScheduleConf.IntervalMinutes) * time.Minute
	l.Info().Dur("interval", interval).Msg("Manager starting...")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runScheduled()
	}()

	if interval <= 0 {
		return
	}
	m.ticker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.schedulerLoop()
}

// schedulerLoop 监听 Ticker 和停止信号。上一个周期未结束时跳过本次触发。
func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	l := logger.WithComponent("NodePool/Manager")

	for {
		select {
		case <-m.ticker.C:
			if m.running.Load() {
				l.Warn().Msg("Previous cycle still running, skipping this tick.")
				continue
			}
			l.Info().Msg("Schedule ticker triggered.")
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runScheduled()
			}()
		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			m.ticker.Stop()
			return
		}
	}
}

func (m *Manager) runScheduled() {
	if _, err := m.RunOnce(m.ctx); err != nil && !errors.Is(err, pipeline.ErrNoInput) {
		l := logger.WithComponent("NodePool/Manager")
		l.Error().Err(err).Msg("Cycle failed.")
	}
}

// Stop 优雅地停止调度器并取消进行中的周期。
func (m *Manager) Stop() {
	select {
	case <-m.stopChan:
		return
	default:
		close(m.stopChan)
	}
	m.cancel()
	m.wg.Wait()
	logger.Info().Msg("NodePool Manager gracefully stopped.")
}

// LastSummary 返回最近一次周期的摘要，尚未运行时返回 nil。
func (m *Manager) LastSummary() *RunSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil
	}
	s := *m.last
	return &s
}

// Accepted 返回最近一次成功周期的节点快照，按速度降序。
func (m *Manager) Accepted() []*model.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Node, len(m.accepted))
	for i, n := range m.accepted {
		out[i] = n.Clone()
	}
	return out
}
