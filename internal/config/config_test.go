package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const browserConfig = `
roadmap:
  url: https://portal.productboard.com/acme/1-public/tabs/roadmap/abc123-q3
  email: me@example.com
  password: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", browserConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, SourceModeBrowser, cfg.Source.Mode)
	assert.Equal(t, "https://apify.productboard.com", cfg.Roadmap.APIBaseURL)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 120, cfg.Browser.TimeoutSeconds)
	assert.Equal(t, "input#email", cfg.Browser.Selectors.Email)
	assert.Equal(t, `button[type="submit"]`, cfg.Browser.Selectors.Submit)
	assert.Equal(t, 15, cfg.Detail.TimeoutSeconds)
	assert.Equal(t, 0, cfg.Detail.MaxConcurrency)
	assert.False(t, cfg.Detail.FailFast)
	assert.Equal(t, 1, cfg.Detail.Retry.Attempts)
	assert.Equal(t, 500, cfg.Detail.Retry.BackoffMS)
	assert.Equal(t, 5, cfg.Detail.Breaker.Threshold)
	assert.Equal(t, 30, cfg.Detail.Breaker.CooldownSeconds)
	assert.Equal(t, "data/pbroadmap.db", cfg.Store.Path)
	assert.Equal(t, "result", cfg.Store.Name)
	assert.Equal(t, "OUTPUT", cfg.Store.OutputKey)
	assert.Equal(t, "data/runs.db", cfg.RunLog.Path)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", browserConfig+`
  api_base_url: http://localhost:8080/
browser:
  headless: false
detail:
  max_concurrency: 4
  fail_fast: true
  retry:
    attempts: "3"
  breaker:
    threshold: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Roadmap.APIBaseURL)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Detail.MaxConcurrency)
	assert.True(t, cfg.Detail.FailFast)
	assert.Equal(t, 3, cfg.Detail.Retry.Attempts)
	assert.Equal(t, 0, cfg.Detail.Breaker.Threshold)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", browserConfig+`
store:
  name: base
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
store:
  output_key: SNAPSHOT
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "base", cfg.Store.Name)
	assert.Equal(t, "SNAPSHOT", cfg.Store.OutputKey)
	assert.Equal(t, "me@example.com", cfg.Roadmap.Email)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
roadmap:
  url: https://portal.productboard.com/acme/1-public/tabs/roadmap/abc123-q3
  email: me@example.com
`)
	t.Setenv("PBROADMAP_ROADMAP_PASSWORD", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Roadmap.Password)
}

func TestLoadRequiresLoginInputsInBrowserMode(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
roadmap:
  url: https://portal.productboard.com/acme/1-public/tabs/roadmap/abc123-q3
  email: me@example.com
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrMissingInputs)
	assert.Contains(t, err.Error(), "at least one of the required inputs is missing")
}

func TestLoadFileModeNeedsOnlyPath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
source:
  mode: FILE
  file:
    path: testdata/initial.json
    cookie: "sid=abc"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Source.IsFile())
	assert.Equal(t, "sid=abc", cfg.Source.File.Cookie)
}

func TestValidateErrorsNameTheKey(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad mode", "source:\n  mode: ftp\n", "source.mode"},
		{"file without path", "source:\n  mode: file\n", "source.file.path"},
		{"bad roadmap url", "source:\n  mode: file\n  file:\n    path: x.json\nroadmap:\n  url: https://example.com/nothing\n", "roadmap.url"},
		{"bad api base", "source:\n  mode: file\n  file:\n    path: x.json\nroadmap:\n  api_base_url: not-a-url\n", "roadmap.api_base_url"},
		{"negative concurrency", "source:\n  mode: file\n  file:\n    path: x.json\ndetail:\n  max_concurrency: -1\n", "detail.max_concurrency"},
		{"zero attempts", "source:\n  mode: file\n  file:\n    path: x.json\ndetail:\n  retry:\n    attempts: 0\n", "detail.retry.attempts"},
		{"serve without addr", "source:\n  mode: file\n  file:\n    path: x.json\napp:\n  serve: true\n", "app.serve"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
