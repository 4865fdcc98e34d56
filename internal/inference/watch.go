package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch 监听模型文件所在目录，模型文件被写入、创建或重命名覆盖后重新加载。
// 监听的是目录而非文件本身，原子替换(先写临时文件再 rename)同样能被捕获。
// 加载失败时保留旧模型。ctx 结束后返回 nil。
func (p *Predictor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建模型文件监听器失败: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(p.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("监听模型目录失败: %w", err)
	}
	p.logger.Info("开始监听模型文件", "path", target)

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("模型文件监听出错", "error", err)
		case <-timer.C:
			if err := p.Load(); err != nil {
				p.logger.Warn("热加载模型失败，继续使用旧模型", "error", err)
			}
		}
	}
}
