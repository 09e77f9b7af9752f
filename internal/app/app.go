package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pbroadmap/internal/capture"
	brcfg "pbroadmap/internal/config"
	"pbroadmap/internal/logger"
	"pbroadmap/internal/store"
	"pbroadmap/internal/store/runlog"
	apihttp "pbroadmap/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→执行抓取并（可选）提供查询接口。
type App struct {
	cfg     *brcfg.Config
	runner  *Runner
	source  capture.Source
	server  *apihttp.Server
	store   store.Store
	ledger  *runlog.Store
	repeat  bool
	Summary *StartupSummary

	closeOnce sync.Once
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 执行抓取；开启 watch 时每次文件变化重新抓取，开启 serve 时抓取结束后继续提供 HTTP 服务。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := a.extract(ctx); err != nil {
			return err
		}
		if a.server != nil && a.cfg.App.Serve {
			logger.Infof("抓取完成，继续提供 HTTP 服务: %s", a.server.Addr())
			<-ctx.Done()
			return nil
		}
		cancel()
		return nil
	})

	return group.Wait()
}

func (a *App) extract(ctx context.Context) error {
	for {
		_, err := a.runner.RunOnce(ctx, a.source)
		if ctx.Err() != nil {
			return nil
		}
		if !a.repeat {
			return err
		}
		if errors.Is(err, capture.ErrExhausted) {
			return nil
		}
		if err != nil {
			logger.Warnf("本次抓取失败，等待文件变化后重试: %v", err)
		}
	}
}

// Close releases the capture source and the stores.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	a.closeOnce.Do(func() {
		if a.source != nil {
			errs = append(errs, a.source.Close())
		}
		if a.ledger != nil {
			errs = append(errs, a.ledger.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
	})
	return errors.Join(errs...)
}
