package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pbroadmap/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const fileSettleDelay = 200 * time.Millisecond

// FileSource replays an initial payload saved on disk. Without watch it delivers the file once;
// with watch it delivers it again after every change.
type FileSource struct {
	path   string
	cookie string
	watch  bool

	mu        sync.Mutex
	delivered bool
	watcher   *fsnotify.Watcher
}

func NewFileSource(path, cookie string, watch bool) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("capture file path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s := &FileSource{path: abs, cookie: cookie, watch: watch}
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		// Editors often replace the file, so the directory is watched and events filtered by name.
		if err := w.Add(filepath.Dir(abs)); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
		}
		s.watcher = w
	}
	return s, nil
}

func (s *FileSource) Next(ctx context.Context) (Capture, error) {
	s.mu.Lock()
	delivered := s.delivered
	s.delivered = true
	watcher := s.watcher
	s.mu.Unlock()

	if delivered {
		if !s.watch {
			return Capture{}, ErrExhausted
		}
		if err := s.waitForChange(ctx, watcher); err != nil {
			return Capture{}, err
		}
	}
	return s.read()
}

func (s *FileSource) read() (Capture, error) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		return Capture{}, fmt.Errorf("read capture file: %w", err)
	}
	return Capture{
		URL:          "file://" + filepath.ToSlash(s.path),
		Body:         body,
		CookieHeader: s.cookie,
		CapturedAt:   time.Now(),
	}, nil
}

// waitForChange blocks until the file is written or recreated, then waits for writes to settle.
func (s *FileSource) waitForChange(ctx context.Context, w *fsnotify.Watcher) error {
	if w == nil {
		return ErrExhausted
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return ErrExhausted
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Infof("capture file changed: %s (%s)", ev.Name, ev.Op)
			return s.settle(ctx, w)
		case err, ok := <-w.Errors:
			if !ok {
				return ErrExhausted
			}
			logger.Warnf("capture file watcher error: %v", err)
		}
	}
}

func (s *FileSource) settle(ctx context.Context, w *fsnotify.Watcher) error {
	timer := time.NewTimer(fileSettleDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == s.path {
				timer.Reset(fileSettleDelay)
			}
		}
	}
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
