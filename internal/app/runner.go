package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pbroadmap/internal/capture"
	"pbroadmap/internal/enrich"
	"pbroadmap/internal/export"
	"pbroadmap/internal/logger"
	"pbroadmap/internal/roadmap"
	"pbroadmap/internal/store"
	"pbroadmap/internal/store/runlog"
)

// Ledger records the lifecycle of each extraction run.
type Ledger interface {
	Start(ctx context.Context, source string) (string, error)
	Finish(ctx context.Context, id string, out runlog.Outcome) error
}

// FetcherFactory builds the detail fetcher for a capture's session cookie.
type FetcherFactory func(cookieHeader string) (enrich.DescriptionFetcher, error)

// RunnerConfig 汇总一次抓取所需的依赖。
type RunnerConfig struct {
	SourceName string
	Records    store.KeyValueStore
	Snapshots  store.KeyValueStore
	OutputKey  string
	ExportPath string
	Ledger     Ledger
	Fetchers   FetcherFactory
	Enrich     enrich.Options
}

// Runner 执行一次完整抓取：捕获 → 解析 → 聚合 → 补全描述 → 持久化。
type Runner struct {
	cfg RunnerConfig
	now func() time.Time
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Records == nil || cfg.Snapshots == nil {
		return nil, errors.New("runner requires record and snapshot stores")
	}
	if cfg.Fetchers == nil {
		return nil, errors.New("runner requires a fetcher factory")
	}
	if strings.TrimSpace(cfg.OutputKey) == "" {
		return nil, errors.New("runner requires an output key")
	}
	return &Runner{cfg: cfg, now: time.Now}, nil
}

// RunReport summarises one run.
type RunReport struct {
	RunID       string
	Status      runlog.Status
	URL         string
	Features    int
	Subfeatures int
	Failures    map[string]error
	Aggregate   roadmap.Report
	Duration    time.Duration
}

// RunOnce pulls one capture from src and carries it through to the store. A capture that fails
// to parse, or an enrichment aborted by fail-fast or cancellation, stores nothing. Failed
// branches alone leave the run partial: the other features are stored.
//
// An exhausted source or a canceled ctx while waiting for the capture is not a run and is
// returned as is.
func (r *Runner) RunOnce(ctx context.Context, src capture.Source) (RunReport, error) {
	if src == nil {
		return RunReport{}, errors.New("no capture source")
	}
	capt, err := src.Next(ctx)
	if err != nil && (errors.Is(err, capture.ErrExhausted) || ctx.Err() != nil) {
		return RunReport{}, err
	}

	start := r.now()
	report := RunReport{URL: capt.URL}
	if r.cfg.Ledger != nil {
		id, lerr := r.cfg.Ledger.Start(ctx, r.cfg.SourceName)
		if lerr != nil {
			logger.Warnf("运行记录写入失败: %v", lerr)
		}
		report.RunID = id
	}

	if err != nil {
		err = fmt.Errorf("capture initial payload: %w", err)
	} else {
		err = r.process(ctx, capt, &report)
	}
	report.Duration = r.now().Sub(start)
	switch {
	case err != nil:
		report.Status = runlog.StatusFailed
	case len(report.Failures) > 0:
		report.Status = runlog.StatusPartial
	default:
		report.Status = runlog.StatusSucceeded
	}
	r.finish(ctx, report, err)
	return report, err
}

func (r *Runner) process(ctx context.Context, capt capture.Capture, report *RunReport) error {
	collections, err := roadmap.ParseCollections(capt.Body)
	if err != nil {
		logger.Error("initial payload rejected", "url", capt.URL, "error", err)
		return err
	}

	tree, agg := roadmap.Aggregate(collections)
	report.Aggregate = agg
	logger.Infof("聚合完成: features=%d subfeatures=%d skipped=%d orphans=%d",
		len(tree), tree.SubfeatureCount(), len(agg.Skipped), len(agg.Orphans))

	fetcher, err := r.cfg.Fetchers(capt.CookieHeader)
	if err != nil {
		return fmt.Errorf("build detail fetcher: %w", err)
	}
	res, err := enrich.New(fetcher, r.cfg.Enrich).Enrich(ctx, tree)
	if err != nil {
		return fmt.Errorf("enrich roadmap: %w", err)
	}
	report.Features = len(res.Features)
	report.Subfeatures = res.Features.SubfeatureCount()
	report.Failures = res.Failures

	snapshot, err := r.persist(ctx, res.Features)
	if err != nil {
		return err
	}
	if path := strings.TrimSpace(r.cfg.ExportPath); path != "" {
		if err := export.Write(path, snapshot); err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
		logger.Infof("快照已导出: %s", path)
	}
	return nil
}

// persist writes one record per feature, then reads every record back and stores the
// combined snapshot under the output key.
func (r *Runner) persist(ctx context.Context, features roadmap.Tree) (roadmap.Tree, error) {
	values := make(map[string]any, len(features))
	for id, f := range features {
		values[id] = f
	}
	if err := r.cfg.Records.ReplaceAll(ctx, values); err != nil {
		return nil, fmt.Errorf("store feature records: %w", err)
	}

	snapshot := make(roadmap.Tree, len(features))
	err := r.cfg.Records.ForEachKey(ctx, func(key string, raw json.RawMessage) error {
		var f roadmap.Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		snapshot[key] = &f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read back feature records: %w", err)
	}
	if err := r.cfg.Snapshots.SetValue(ctx, r.cfg.OutputKey, snapshot); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *Runner) finish(ctx context.Context, report RunReport, runErr error) {
	if runErr == nil && len(report.Failures) > 0 {
		ids := make([]string, 0, len(report.Failures))
		for id := range report.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		runErr = fmt.Errorf("%d feature(s) failed: %s", len(ids), strings.Join(ids, ", "))
	}
	logger.InfoBlock(report.Summary(runErr))

	if r.cfg.Ledger == nil || report.RunID == "" {
		return
	}
	out := runlog.Outcome{
		Status:      report.Status,
		Features:    report.Features,
		Subfeatures: report.Subfeatures,
		Failures:    len(report.Failures),
		Skipped:     len(report.Aggregate.Skipped),
		Orphans:     len(report.Aggregate.Orphans),
		Err:         runErr,
	}
	if err := r.cfg.Ledger.Finish(context.WithoutCancel(ctx), report.RunID, out); err != nil {
		logger.Warnf("运行记录更新失败 run=%s: %v", report.RunID, err)
	}
}
