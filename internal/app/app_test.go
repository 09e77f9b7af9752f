package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	brcfg "pbroadmap/internal/config"
	"pbroadmap/internal/enrich"
	"pbroadmap/internal/roadmap"
	"pbroadmap/internal/store/runlog"
	"pbroadmap/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileModeConfig(t *testing.T, payload string) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "initial.json")
	require.NoError(t, os.WriteFile(input, []byte(payload), 0o644))
	return &brcfg.Config{
		App:     brcfg.AppConfig{Env: "test", LogLevel: "error"},
		Roadmap: brcfg.RoadmapConfig{APIBaseURL: "http://127.0.0.1:1"},
		Source: brcfg.SourceConfig{
			Mode: brcfg.SourceModeFile,
			File: brcfg.FileSourceConfig{Path: input, Cookie: "sid=file"},
		},
		Detail: brcfg.DetailConfig{Retry: brcfg.RetryConfig{Attempts: 1}},
		Store: brcfg.StoreConfig{
			Path:      filepath.Join(dir, "data", "pbroadmap.db"),
			Name:      "result",
			OutputKey: "OUTPUT",
		},
		RunLog: brcfg.RunLogConfig{Path: filepath.Join(dir, "data", "runs.db")},
	}
}

func staticFetchers(cookies chan<- string) func(*brcfg.Config) FetcherFactory {
	return func(*brcfg.Config) FetcherFactory {
		return func(cookie string) (enrich.DescriptionFetcher, error) {
			cookies <- cookie
			return enrich.FetcherFunc(describeAll), nil
		}
	}
}

func TestAppRunFileSourceEndToEnd(t *testing.T) {
	cfg := fileModeConfig(t, examplePayload)
	cookies := make(chan string, 1)

	a, err := NewAppBuilder(cfg, WithFetchers(staticFetchers(cookies)), WithoutSummary()).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, "sid=file", <-cookies)

	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()
	var tree roadmap.Tree
	found, err := st.Collection(DefaultCollection).GetValue(context.Background(), "OUTPUT", &tree)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, tree, 2)
	assert.Equal(t, "desc-10", *tree["10"].Description)

	ledger, err := runlog.Open(cfg.RunLog.Path)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusSucceeded, runs[0].Status)
	assert.Equal(t, "file", runs[0].Source)
	assert.Equal(t, 2, runs[0].Features)
}

func TestAppRunFailsOnMalformedInput(t *testing.T) {
	cfg := fileModeConfig(t, `{"features": "nope"}`)
	cookies := make(chan string, 1)

	a, err := NewAppBuilder(cfg, WithFetchers(staticFetchers(cookies)), WithoutSummary()).Build(context.Background())
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.ErrorIs(t, err, roadmap.ErrInvalidPayload)
	assert.Empty(t, cookies)

	ledger, err := runlog.Open(cfg.RunLog.Path)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestAppRunRequiresInitialisation(t *testing.T) {
	var a *App
	assert.Error(t, a.Run(context.Background()))
	assert.NoError(t, a.Close())
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestEnrichOptionsFromConfig(t *testing.T) {
	opts := enrichOptions(brcfg.DetailConfig{
		TimeoutSeconds: 3,
		MaxConcurrency: 7,
		FailFast:       true,
		Retry:          brcfg.RetryConfig{Attempts: 2, BackoffMS: 250},
	})
	assert.Equal(t, 7, opts.MaxConcurrency)
	assert.True(t, opts.FailFast)
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Equal(t, 2, opts.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, opts.Retry.Backoff)
}
