package app

import (
	"fmt"
	"strings"
	"time"

	"pbroadmap/internal/config"
)

// StartupSummary 在启动时打印关键配置，便于核对。
type StartupSummary struct {
	Source      string
	RoadmapURL  string
	APIBaseURL  string
	StorePath   string
	RunLogPath  string
	HTTPAddr    string
	Concurrency int
	FailFast    bool
	Attempts    int
	ExportPath  string
}

func newStartupSummary(cfg *config.Config) *StartupSummary {
	source := config.SourceModeBrowser
	if cfg.Source.IsFile() {
		source = fmt.Sprintf("%s (%s, watch=%t)", config.SourceModeFile, cfg.Source.File.Path, cfg.Source.File.Watch)
	}
	return &StartupSummary{
		Source:      source,
		RoadmapURL:  cfg.Roadmap.URL,
		APIBaseURL:  cfg.Roadmap.APIBaseURL,
		StorePath:   cfg.Store.Path,
		RunLogPath:  cfg.RunLog.Path,
		HTTPAddr:    cfg.App.HTTPAddr,
		Concurrency: cfg.Detail.MaxConcurrency,
		FailFast:    cfg.Detail.FailFast,
		Attempts:    cfg.Detail.Retry.Attempts,
		ExportPath:  cfg.Store.ExportPath,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[数据来源 (SOURCE)]")
	fmt.Printf("  模式: %s\n", s.Source)
	fmt.Printf("  Roadmap: %s\n", orDash(s.RoadmapURL))
	fmt.Printf("  详情接口: %s\n", orDash(s.APIBaseURL))
	fmt.Println()

	fmt.Println("[详情补全 (ENRICHMENT)]")
	concurrency := "不限"
	if s.Concurrency > 0 {
		concurrency = fmt.Sprintf("%d", s.Concurrency)
	}
	fmt.Printf("  并发上限: %s\n", concurrency)
	fmt.Printf("  失败即终止: %t\n", s.FailFast)
	fmt.Printf("  尝试次数: %d\n", s.Attempts)
	fmt.Println()

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  结果库: %s\n", orDash(s.StorePath))
	fmt.Printf("  运行记录: %s\n", orDash(s.RunLogPath))
	fmt.Printf("  导出文件: %s\n", orDash(s.ExportPath))
	fmt.Printf("  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Println(strings.Repeat("=", 80))
}

// Summary renders the run outcome as a log block.
func (r RunReport) Summary(err error) string {
	lines := []string{
		fmt.Sprintf("抓取结束 run=%s status=%s 耗时=%s", orDash(r.RunID), r.Status, r.Duration.Round(time.Millisecond)),
		fmt.Sprintf("- features=%d subfeatures=%d failures=%d", r.Features, r.Subfeatures, len(r.Failures)),
		fmt.Sprintf("- skipped=%d orphans=%d ignored=%d",
			len(r.Aggregate.Skipped), len(r.Aggregate.Orphans), r.Aggregate.Ignored),
	}
	if err != nil {
		lines = append(lines, fmt.Sprintf("- error: %v", err))
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
