package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultRoadmapAPIBaseURL = "https://apify.productboard.com"
	defaultSourceMode        = SourceModeBrowser
	defaultBrowserHeadless   = true
	defaultBrowserTimeout    = 120
	defaultEmailSelector     = "input#email"
	defaultPasswordSelector  = "input#password"
	defaultSubmitSelector    = `button[type="submit"]`
	defaultDetailTimeout     = 15
	defaultRetryAttempts     = 1
	defaultRetryBackoffMS    = 500
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultStorePath         = "data/pbroadmap.db"
	defaultStoreName         = "result"
	defaultStoreOutputKey    = "OUTPUT"
	defaultRunLogPath        = "data/runs.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Roadmap.applyDefaults(keys)
	c.Source.applyDefaults(keys)
	c.Browser.applyDefaults(keys)
	c.Detail.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.RunLog.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (r *RoadmapConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("roadmap.api_base_url", &r.APIBaseURL, defaultRoadmapAPIBaseURL),
	)
	r.APIBaseURL = strings.TrimRight(strings.TrimSpace(r.APIBaseURL), "/")
}

func (s *SourceConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("source.mode", &s.Mode, defaultSourceMode),
	)
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
}

func (b *BrowserConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("browser.headless", &b.Headless, defaultBrowserHeadless),
		intFieldDefault("browser.timeout_seconds", &b.TimeoutSeconds, defaultBrowserTimeout),
		stringFieldDefault("browser.selectors.email", &b.Selectors.Email, defaultEmailSelector),
		stringFieldDefault("browser.selectors.password", &b.Selectors.Password, defaultPasswordSelector),
		stringFieldDefault("browser.selectors.submit", &b.Selectors.Submit, defaultSubmitSelector),
	)
}

func (d *DetailConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("detail.timeout_seconds", &d.TimeoutSeconds, defaultDetailTimeout),
		intFieldDefault("detail.retry.attempts", &d.Retry.Attempts, defaultRetryAttempts),
		intFieldDefault("detail.retry.backoff_ms", &d.Retry.BackoffMS, defaultRetryBackoffMS),
		intFieldDefault("detail.breaker.threshold", &d.Breaker.Threshold, defaultBreakerThreshold),
		intFieldDefault("detail.breaker.cooldown_seconds", &d.Breaker.CooldownSeconds, defaultBreakerCooldown),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.name", &s.Name, defaultStoreName),
		stringFieldDefault("store.output_key", &s.OutputKey, defaultStoreOutputKey),
	)
}

func (r *RunLogConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("runlog.path", &r.Path, defaultRunLogPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
