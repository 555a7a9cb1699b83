// 配置文件变更监听器实现。
//
// 基于修改时间轮询与防抖机制，在 serve 运行期间跟踪配置文件，
// 文件变更后重新加载并通知回调（用于日志级别等可热更字段）。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// Watcher 轮询单个配置文件并在其变更后重新加载
type Watcher struct {
	mu sync.RWMutex

	// 配置
	loader       *Loader
	path         string
	pollInterval time.Duration
	debounce     time.Duration

	// 状态
	running  bool
	stopChan chan struct{}
	lastMod  time.Time

	// 回调
	callbacks []func(*Config)

	// 记录器
	logger *zap.Logger
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file's modification time is checked
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay sets the quiet period after a change before reloading
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 监听器实现 ---

// NewWatcher 创建配置文件监听器。loader 决定重载时的解析规则
// （环境变量前缀、验证器），path 是被监听的 YAML 文件。
func NewWatcher(loader *Loader, path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:       loader.WithConfigPath(path),
		path:         path,
		pollInterval: time.Second,
		debounce:     100 * time.Millisecond,
		stopChan:     make(chan struct{}),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a callback invoked with the freshly loaded Config
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. 文件不存在时也会开始监听，等待其被创建。
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		w.logger.Warn("Config file does not exist, will watch for creation",
			zap.String("path", w.path))
	}

	go w.pollLoop(ctx)

	w.logger.Info("Config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("Config watcher stopped")
}

// IsRunning returns whether the watcher is active
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// pollLoop 轮询修改时间，变更后经防抖窗口触发重载
func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if !w.changed() {
				continue
			}
			// 重置防抖定时器，等待写入完成
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)
		}
	}
}

// changed 检查文件修改时间是否前进
func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return true
	}
	return false
}

// reload 重新加载配置并分发给回调；加载失败时保留旧配置
func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Reloaded config is invalid, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	w.logger.Info("Config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}
