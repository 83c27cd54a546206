// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle 文件最后一次写入后等待多久才触发
const DefaultSettle = 2 * time.Second

// FileMonitor 监听目录中行程数据文件的写入
type FileMonitor struct {
	// Settle 同一文件的连续写入合并为一次触发，分块复制的文件写完才处理
	Settle time.Duration

	watchDir   string
	extensions []string
	watcher    *fsnotify.Watcher
	lastFile   string
	pending    map[string]*time.Timer
	mu         sync.Mutex
}

// NewFileMonitor extensions为空时监听所有文件
func NewFileMonitor(dir string, extensions ...string) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &FileMonitor{
		Settle:     DefaultSettle,
		watchDir:   dir,
		extensions: extensions,
		watcher:    watcher,
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Watch 阻塞直到ctx取消或watcher出错
// 匹配的文件在Settle时间内没有新的写入后调用一次handler
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	defer m.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !m.matches(event.Name) {
				continue
			}
			m.schedule(ctx, event.Name, handler)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// schedule 每个事件都重置该文件的计时器
func (m *FileMonitor) schedule(ctx context.Context, name string, handler func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.pending[name]; ok && timer.Stop() {
		timer.Reset(m.Settle)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(m.Settle, func() {
		m.mu.Lock()
		// 已被新的计时器取代
		if m.pending[name] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.pending, name)
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			return
		}

		m.mu.Lock()
		m.lastFile = name
		m.mu.Unlock()
		handler(name)
	})
	m.pending[name] = timer
}

func (m *FileMonitor) stopPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, timer := range m.pending {
		timer.Stop()
		delete(m.pending, name)
	}
}

func (m *FileMonitor) matches(name string) bool {
	if len(m.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range m.extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// LastFile 最近一次触发的文件
func (m *FileMonitor) LastFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFile
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
