package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听 FileBlobStore 目录，清单文件变化后（去抖）触发 Reloader.Reload。
// 仅适用于文件后端；其他后端使用 Reloader.Run 轮询。
type Watcher struct {
	Dir      string
	Reloader *Reloader
	Debounce time.Duration
}

// Run 阻塞直到 ctx 取消或 watcher 出错。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("checkpoint: new watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("checkpoint: watch %s: %w", w.Dir, err)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	logger := w.Reloader.Logger.With().Str("dir", w.Dir).Logger()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isManifestEvent(ev) {
				continue
			}
			logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("manifest changed")
			timer.Reset(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch checkpoint dir")
		case <-timer.C:
			if _, err := w.Reloader.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("reload checkpoints")
			}
		}
	}
}

func isManifestEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(filepath.Base(ev.Name), ".manifest.yaml")
}
