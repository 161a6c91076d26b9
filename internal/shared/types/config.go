package types

import (
	"fmt"
	"time"
)

// Target 是一个需要通过节点访问的目标站点，例如流媒体服务。
type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CommonConf 包含共有的配置
type CommonConf struct {
	MaxConcurrent int `ini:"max_concurrent"` // 访问探测与测速共享的并发上限
}

// CrawlerConf 包含节点来源的配置
type CrawlerConf struct {
	GithubRepos     []string `ini:"github_repos" delim:","`
	GithubAPI       string   `ini:"github_api"`
	GithubToken     string   `ini:"github_token"`
	MaxFilesPerRepo int      `ini:"max_files_per_repo"`
	PageURLs        []string `ini:"page_urls" delim:","`
	RequestTimeout  int      `ini:"request_timeout"` // 秒
}

// ValidatorConf 包含节点验证的配置
type ValidatorConf struct {
	Timeout        int    `ini:"timeout"`      // TCP 连接超时（秒）
	TestTimeout    int    `ini:"test_timeout"` // HTTP 测试超时（秒）
	DirectCheckURL string `ini:"direct_check_url"`
}

// SpeedTestConf 包含测速的配置
type SpeedTestConf struct {
	MinSpeed         float64  `ini:"min_speed"` // KB/s
	MaxSpeed         float64  `ini:"max_speed"` // KB/s
	BenchmarkURLs    []string `ini:"benchmark_urls" delim:","`
	Selection        string   `ini:"selection"`          // "random" 或 "round_robin"
	BandwidthLimitKB int      `ini:"bandwidth_limit_kb"` // 测速总带宽上限, 0 表示不限制
}

// OutputConf 包含结果输出的配置
type OutputConf struct {
	Dir        string `ini:"dir"`
	TextFile   string `ini:"text_file"`
	JSONFile   string `ini:"json_file"`
	ClashFile  string `ini:"clash_file"`
	Revalidate bool   `ini:"revalidate"` // 是否将上一次的输出重新加入验证
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	File  string `ini:"file"`
}

// ScheduleConf 包含定时运行的配置
type ScheduleConf struct {
	IntervalMinutes int `ini:"interval_minutes"` // 0 表示只运行一次
}

// WebConf 包含状态服务的配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是项目的统一配置结构体
type Config struct {
	CommonConf    `ini:"common"`
	CrawlerConf   `ini:"crawler"`
	ValidatorConf `ini:"validator"`
	SpeedTestConf `ini:"speedtest"`
	OutputConf    `ini:"output"`
	LogConf       `ini:"log"`
	ScheduleConf  `ini:"schedule"`
	WebConf       `ini:"web"`

	// Targets 来自 [targets] 小节，保持文件中的顺序
	Targets []Target `ini:"-"`
}

// DefaultConfig 返回内置的默认配置。
func DefaultConfig() *Config {
	return &Config{
		CommonConf: CommonConf{MaxConcurrent: 20},
		CrawlerConf: CrawlerConf{
			GithubRepos: []string{
				"freefq/free",
				"peasoft/NoMoreWalls",
				"ripaojiedian/free-ssr-ss-v2ray-vless-clash",
			},
			GithubAPI:       "https://api.github.com",
			MaxFilesPerRepo: 10,
			RequestTimeout:  10,
		},
		ValidatorConf: ValidatorConf{
			Timeout:        10,
			TestTimeout:    15,
			DirectCheckURL: "https://www.google.com/generate_204",
		},
		SpeedTestConf: SpeedTestConf{
			MinSpeed: 100,
			MaxSpeed: 300,
			BenchmarkURLs: []string{
				"https://www.google.com/generate_204",
				"https://httpbin.org/bytes/102400",
			},
			Selection: "random",
		},
		OutputConf: OutputConf{
			Dir:       ".",
			TextFile:  "nodes.txt",
			JSONFile:  "nodes.json",
			ClashFile: "clash_config.yaml",
		},
		LogConf: LogConf{Level: "info", File: "log.txt"},
		Targets: []Target{
			{Name: "youtube", URL: "https://www.youtube.com"},
			{Name: "github", URL: "https://www.github.com"},
			{Name: "chatgpt", URL: "https://chat.openai.com"},
			{Name: "netflix", URL: "https://www.netflix.com"},
		},
	}
}

// ConnectTimeout 是 TCP 连通性探测的超时。
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ValidatorConf.Timeout) * time.Second
}

// HTTPTimeout 是访问探测与测速请求的超时。
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.ValidatorConf.TestTimeout) * time.Second
}

// Validate 检查配置中会导致流水线无法运行的取值。
func (c *Config) Validate() error {
	if c.CommonConf.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.CommonConf.MaxConcurrent)
	}
	if c.ValidatorConf.Timeout <= 0 || c.ValidatorConf.TestTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive (timeout=%d, test_timeout=%d)", c.ValidatorConf.Timeout, c.ValidatorConf.TestTimeout)
	}
	if c.SpeedTestConf.MinSpeed < 0 || c.SpeedTestConf.MinSpeed > c.SpeedTestConf.MaxSpeed {
		return fmt.Errorf("invalid speed band [%.2f, %.2f]", c.SpeedTestConf.MinSpeed, c.SpeedTestConf.MaxSpeed)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("no target endpoints configured")
	}
	if len(c.SpeedTestConf.BenchmarkURLs) == 0 {
		return fmt.Errorf("no benchmark urls configured")
	}
	switch c.SpeedTestConf.Selection {
	case "", "random", "round_robin":
	default:
		return fmt.Errorf("unknown benchmark selection %q", c.SpeedTestConf.Selection)
	}
	return nil
}
