package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crensch/pushgate/internal/config"
)

func watchConfig(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_config", slog.String("path", path))

	// Debounce to coalesce bursty editor/atomic-write events.
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(200 * time.Millisecond)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(200 * time.Millisecond)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}

// reloadConfig re-reads and recompiles the config file. Endpoint limits
// and the signature policy are applied live; everything else (listeners,
// store, routers, token keys, tracing) requires a restart.
func reloadConfig(path string, running *config.Compiled, state *runtimeState, logger *slog.Logger, trigger string) (*config.Compiled, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK() {
		logger.Error("config_reload_failed", slog.Any("err", res.Err()), slog.String("trigger", trigger))
		return running, false
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w), slog.String("trigger", trigger))
	}

	if requiresRestartForReload(compiled, running) {
		logger.Info("config_reloaded_restart_required", slog.String("trigger", trigger))
		return running, false
	}

	state.update(compiled)
	logger.Info("config_reloaded_ok", slog.String("trigger", trigger))
	return compiled, true
}

func requiresRestartForReload(next, running *config.Compiled) bool {
	if next.Listen != running.Listen || next.StatusListen != running.StatusListen {
		return true
	}
	if next.Store != running.Store {
		return true
	}
	if !reflect.DeepEqual(next.Routers, running.Routers) {
		return true
	}
	if !reflect.DeepEqual(next.Endpoint.TokenKeyRefs, running.Endpoint.TokenKeyRefs) {
		return true
	}
	if next.Tracing != running.Tracing {
		return true
	}
	return false
}
