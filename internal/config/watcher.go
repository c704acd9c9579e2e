package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听配置文件变化，重新加载成功后回调 onChange，返回的 watcher 由调用方关闭
func Watch(path string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	// 监听目录而不是文件，编辑器保存时常常是先删除再创建
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}

	var debounceTimer *time.Timer
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
					slog.Info("配置文件发生变化，正在重新加载")
					cfg, err := LoadConfig(absPath)
					if err != nil {
						slog.Error(fmt.Sprintf("重新加载配置文件失败: %v", err))
						return
					}
					onChange(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error(fmt.Sprintf("配置文件监听出错: %v", err))
			}
		}
	}()
	return watcher, nil
}
