package app

import (
	"context"
	"fmt"

	"pbroadmap/internal/capture"
	brcfg "pbroadmap/internal/config"
	"pbroadmap/internal/enrich"
	"pbroadmap/internal/gateway/productboard"
	"pbroadmap/internal/store"
	"pbroadmap/internal/store/runlog"
	"pbroadmap/internal/store/sqlite"
	apihttp "pbroadmap/internal/transport/http/api"
)

// DefaultCollection holds the output snapshot.
const DefaultCollection = "default"

type AppBuilder struct {
	cfg *brcfg.Config

	sourceFn   func(*brcfg.Config) (capture.Source, error)
	storeFn    func(brcfg.StoreConfig) (store.Store, error)
	ledgerFn   func(brcfg.RunLogConfig) (*runlog.Store, error)
	fetcherFn  func(*brcfg.Config) FetcherFactory
	httpFn     func(brcfg.AppConfig, *apihttp.Router) (*apihttp.Server, error)
	summaryOff bool
}

type AppBuilderOption func(*AppBuilder)

// WithSource overrides how the capture source is built.
func WithSource(fn func(*brcfg.Config) (capture.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

// WithFetchers overrides the detail fetcher factory.
func WithFetchers(fn func(*brcfg.Config) FetcherFactory) AppBuilderOption {
	return func(b *AppBuilder) { b.fetcherFn = fn }
}

// WithoutSummary suppresses the startup summary.
func WithoutSummary() AppBuilderOption {
	return func(b *AppBuilder) { b.summaryOff = true }
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		sourceFn:  buildSource,
		storeFn:   buildStore,
		ledgerFn:  buildLedger,
		fetcherFn: productboardFetchers,
		httpFn:    buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	ledger, err := b.ledgerFn(cfg.RunLog)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	closeAll := func() {
		ledger.Close()
		st.Close()
	}

	src, err := b.sourceFn(cfg)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build capture source: %w", err)
	}

	records := st.Collection(cfg.Store.Name)
	snapshots := st.Collection(DefaultCollection)
	runner, err := NewRunner(RunnerConfig{
		SourceName: sourceName(cfg),
		Records:    records,
		Snapshots:  snapshots,
		OutputKey:  cfg.Store.OutputKey,
		ExportPath: cfg.Store.ExportPath,
		Ledger:     ledger,
		Fetchers:   b.fetcherFn(cfg),
		Enrich:     enrichOptions(cfg.Detail),
	})
	if err != nil {
		src.Close()
		closeAll()
		return nil, err
	}

	var server *apihttp.Server
	if cfg.App.HTTPAddr != "" {
		server, err = b.httpFn(cfg.App, &apihttp.Router{
			Records:   records,
			Snapshots: snapshots,
			OutputKey: cfg.Store.OutputKey,
			Runs:      ledger,
		})
		if err != nil {
			src.Close()
			closeAll()
			return nil, fmt.Errorf("build http server: %w", err)
		}
	}

	app := &App{
		cfg:    cfg,
		runner: runner,
		source: src,
		server: server,
		store:  st,
		ledger: ledger,
		repeat: cfg.Source.IsFile() && cfg.Source.File.Watch,
	}
	if !b.summaryOff {
		app.Summary = newStartupSummary(cfg)
	}
	return app, nil
}

func buildSource(cfg *brcfg.Config) (capture.Source, error) {
	if cfg.Source.IsFile() {
		return capture.NewFileSource(cfg.Source.File.Path, cfg.Source.File.Cookie, cfg.Source.File.Watch)
	}
	return capture.NewBrowserSource(cfg.Browser, cfg.Roadmap)
}

func buildStore(cfg brcfg.StoreConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

func buildLedger(cfg brcfg.RunLogConfig) (*runlog.Store, error) {
	return runlog.Open(cfg.Path)
}

func buildHTTPServer(cfg brcfg.AppConfig, router *apihttp.Router) (*apihttp.Server, error) {
	return apihttp.NewServer(apihttp.ServerConfig{Addr: cfg.HTTPAddr, Router: router})
}

// productboardFetchers builds one detail client per capture, bound to its session cookie.
func productboardFetchers(cfg *brcfg.Config) FetcherFactory {
	return func(cookieHeader string) (enrich.DescriptionFetcher, error) {
		client, err := productboard.NewClient(cfg.Roadmap, cfg.Detail, cookieHeader)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func enrichOptions(d brcfg.DetailConfig) enrich.Options {
	return enrich.Options{
		MaxConcurrency: d.MaxConcurrency,
		FailFast:       d.FailFast,
		Timeout:        d.Timeout(),
		Retry: enrich.RetryPolicy{
			Attempts:  d.Retry.Attempts,
			Backoff:   d.Retry.Backoff(),
			Retryable: productboard.Retryable,
		},
	}
}

func sourceName(cfg *brcfg.Config) string {
	if cfg.Source.IsFile() {
		return brcfg.SourceModeFile
	}
	return brcfg.SourceModeBrowser
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *brcfg.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
