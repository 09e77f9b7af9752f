package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"pbroadmap/internal/roadmap"
)

// ErrMissingInputs 表示浏览器模式缺少 url/email/password 中的至少一项。
var ErrMissingInputs = errors.New("at least one of the required inputs is missing")

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Roadmap.validate(!c.Source.IsFile()); err != nil {
		return err
	}
	if err := c.Browser.validate(); err != nil {
		return err
	}
	if err := c.Detail.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RunLog.Path) == "" {
		return fmt.Errorf("runlog.path cannot be empty")
	}
	if c.App.Serve && strings.TrimSpace(c.App.HTTPAddr) == "" {
		return fmt.Errorf("app.serve requires app.http_addr")
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch s.Mode {
	case SourceModeBrowser:
		return nil
	case SourceModeFile:
		if strings.TrimSpace(s.File.Path) == "" {
			return fmt.Errorf("source.file.path is required when source.mode=file")
		}
		return nil
	default:
		return fmt.Errorf("source.mode must be %q or %q, got %q", SourceModeBrowser, SourceModeFile, s.Mode)
	}
}

// validate 在浏览器模式下要求登录三要素齐全；文件模式只需要详情接口地址。
func (r *RoadmapConfig) validate(needLogin bool) error {
	if needLogin {
		if strings.TrimSpace(r.URL) == "" || strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Password) == "" {
			return fmt.Errorf("roadmap.url/email/password: %w", ErrMissingInputs)
		}
	}
	if strings.TrimSpace(r.URL) != "" {
		if _, err := roadmap.RoadmapID(r.URL); err != nil {
			return fmt.Errorf("roadmap.url: %w", err)
		}
	}
	u, err := url.Parse(r.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("roadmap.api_base_url must be an absolute URL, got %q", r.APIBaseURL)
	}
	return nil
}

func (b *BrowserConfig) validate() error {
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("browser.timeout_seconds must be > 0")
	}
	sel := b.Selectors
	if strings.TrimSpace(sel.Email) == "" || strings.TrimSpace(sel.Password) == "" || strings.TrimSpace(sel.Submit) == "" {
		return fmt.Errorf("browser.selectors requires email, password and submit")
	}
	return nil
}

func (d *DetailConfig) validate() error {
	if d.TimeoutSeconds < 0 {
		return fmt.Errorf("detail.timeout_seconds must be >= 0")
	}
	if d.MaxConcurrency < 0 {
		return fmt.Errorf("detail.max_concurrency must be >= 0")
	}
	if d.Retry.Attempts < 1 {
		return fmt.Errorf("detail.retry.attempts must be >= 1")
	}
	if d.Retry.BackoffMS < 0 {
		return fmt.Errorf("detail.retry.backoff_ms must be >= 0")
	}
	if d.Breaker.Threshold < 0 {
		return fmt.Errorf("detail.breaker.threshold must be >= 0")
	}
	if d.Breaker.Threshold > 0 && d.Breaker.CooldownSeconds <= 0 {
		return fmt.Errorf("detail.breaker.cooldown_seconds must be > 0 when breaker is enabled")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("store.name cannot be empty")
	}
	if strings.TrimSpace(s.OutputKey) == "" {
		return fmt.Errorf("store.output_key cannot be empty")
	}
	return nil
}
