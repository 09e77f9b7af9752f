package config

import (
	"strings"
	"time"
)

// Config 是 pbroadmap 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Roadmap RoadmapConfig `toml:"roadmap"`
	Source  SourceConfig  `toml:"source"`
	Browser BrowserConfig `toml:"browser"`
	Detail  DetailConfig  `toml:"detail"`
	Store   StoreConfig   `toml:"store"`
	RunLog  RunLogConfig  `toml:"runlog"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
	// Serve 为 true 时，抓取结束后继续提供 HTTP 查询接口，直到进程退出。
	Serve bool `toml:"serve"`
}

// RoadmapConfig 描述目标 roadmap 页面及登录凭据。
type RoadmapConfig struct {
	URL        string `toml:"url"`
	Email      string `toml:"email"`
	Password   string `toml:"password"`
	APIBaseURL string `toml:"api_base_url"`
}

const (
	SourceModeBrowser = "browser"
	SourceModeFile    = "file"
)

// SourceConfig 决定 initial 响应的来源：真实浏览器或回放文件。
type SourceConfig struct {
	Mode string           `toml:"mode"`
	File FileSourceConfig `toml:"file"`
}

type FileSourceConfig struct {
	Path   string `toml:"path"`
	Cookie string `toml:"cookie"`
	Watch  bool   `toml:"watch"`
}

// IsFile reports whether captures are replayed from disk.
func (s SourceConfig) IsFile() bool {
	return strings.EqualFold(strings.TrimSpace(s.Mode), SourceModeFile)
}

type BrowserConfig struct {
	Headless       bool           `toml:"headless"`
	TimeoutSeconds int            `toml:"timeout_seconds"`
	UserAgent      string         `toml:"user_agent"`
	Selectors      LoginSelectors `toml:"selectors"`
}

// LoginSelectors 是登录表单的 CSS 选择器。
type LoginSelectors struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	Submit   string `toml:"submit"`
}

func (b BrowserConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// DetailConfig 控制逐条拉取 feature 描述时的并发与容错。
type DetailConfig struct {
	TimeoutSeconds int           `toml:"timeout_seconds"`
	MaxConcurrency int           `toml:"max_concurrency"`
	FailFast       bool          `toml:"fail_fast"`
	Retry          RetryConfig   `toml:"retry"`
	Breaker        BreakerConfig `toml:"breaker"`
}

func (d DetailConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

type RetryConfig struct {
	Attempts  int `toml:"attempts"`
	BackoffMS int `toml:"backoff_ms"`
}

func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMS) * time.Millisecond
}

type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

// StoreConfig 描述结果 KV 存储。
type StoreConfig struct {
	Path string `toml:"path"`
	// Name 是逐条 feature 记录所在的集合，OutputKey 写入默认集合。
	Name       string `toml:"name"`
	OutputKey  string `toml:"output_key"`
	ExportPath string `toml:"export_path"`
}

type RunLogConfig struct {
	Path string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
