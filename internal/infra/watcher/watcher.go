package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handler processes one settled video file.
type Handler func(ctx context.Context, path string) error

type Config struct {
	Dir         string
	Extensions  []string
	Concurrency int
	// SettleDelay is how long a file must go without writes before it is submitted.
	SettleDelay time.Duration
	// ProcessedDir, when set, receives files after successful handling.
	ProcessedDir string
}

// Watcher feeds video files dropped into a directory to a bounded pool of handlers.
// Files already present at start are submitted too.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]struct{}
	jobs    chan string
	done    <-chan struct{}
}

func New(cfg Config, handler Handler, logger *zap.Logger) *Watcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	return &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]struct{}),
		jobs:    make(chan string, 64),
	}
}

// Run watches until ctx is done, then waits for in-flight handlers to return.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch dir %s is not a directory", w.cfg.Dir)
	}
	if w.cfg.ProcessedDir != "" {
		if err := os.MkdirAll(w.cfg.ProcessedDir, 0o755); err != nil {
			return fmt.Errorf("create processed dir: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}

	w.done = ctx.Done()

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.work(ctx, id)
		}(i)
	}

	w.logger.Info("watching directory",
		zap.String("dir", w.cfg.Dir),
		zap.Int("concurrency", w.cfg.Concurrency),
	)
	w.scanExisting()

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			wg.Wait()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				w.stopTimers()
				wg.Wait()
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				continue
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.accepts(ev.Name) {
		return
	}
	w.schedule(ev.Name)
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("initial scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.cfg.Dir, e.Name())
		if !e.IsDir() && w.accepts(path) {
			w.schedule(path)
		}
	}
}

// schedule (re)starts the settle timer for path. Each write pushes submission back.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, done := w.seen[path]; done {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.SettleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.SettleDelay, func() { w.submit(path) })
}

func (w *Watcher) submit(path string) {
	w.mu.Lock()
	if _, ok := w.pending[path]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.seen[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.jobs <- path:
	case <-w.done:
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) work(ctx context.Context, id int) {
	log := w.logger.With(zap.Int("watch_worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.jobs:
			log.Info("processing file", zap.String("path", path))
			if err := w.handler(ctx, path); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Error("file processing failed", zap.String("path", path), zap.Error(err))
				continue
			}
			w.archive(path, log)
		}
	}
}

func (w *Watcher) archive(path string, log *zap.Logger) {
	if w.cfg.ProcessedDir == "" {
		return
	}
	dest := filepath.Join(w.cfg.ProcessedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Warn("failed to move processed file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, want := range w.cfg.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
