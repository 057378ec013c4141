package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/notify"
	"iis-rollback/pkg/rollback"
)

type runFunc func(ctx context.Context, req rollback.Request) *rollback.Result

// TriggerWatcher watches a local directory for rollback request files.
// Dropping a *.json file there starts a run; the file is renamed to
// *.json.done or *.json.failed afterwards so a request fires once.
type TriggerWatcher struct {
	triggerPath string
	defaults    rollback.Request
	run         runFunc
	notifier    *notify.EmailNotifier
}

// NewTriggerWatcher creates a watcher over triggerPath. Fields missing from
// a request file fall back to the configured defaults.
func NewTriggerWatcher(triggerPath string, defaults rollback.Request, run runFunc, notifier *notify.EmailNotifier) *TriggerWatcher {
	return &TriggerWatcher{
		triggerPath: triggerPath,
		defaults:    defaults,
		run:         run,
		notifier:    notifier,
	}
}

// Start blocks until the context is cancelled, handling trigger files one
// at a time. Runs are never interleaved from this loop.
func (w *TriggerWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.triggerPath, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.triggerPath); err != nil {
		return err
	}

	logger.Log.WithField("trigger_path", w.triggerPath).Info("Watching for rollback triggers")

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Trigger watcher shutting down")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.handleTrigger(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.LogError("watcher", "watch", err)
		}
	}
}

func (w *TriggerWatcher) handleTrigger(ctx context.Context, path string) {
	// Give the writer a moment to finish the file.
	time.Sleep(200 * time.Millisecond)

	req, err := w.parseTrigger(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Duplicate event for a file already handled and renamed.
			return
		}
		logger.LogError("watcher", "parse_trigger", err)
		w.retire(path, ".failed")
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"trigger":   path,
		"site_name": req.SiteName,
		"component": "watcher",
	}).Info("Rollback trigger received")

	result := w.run(ctx, req)
	if w.notifier != nil {
		if err := w.notifier.Notify(result); err != nil {
			logger.LogError("watcher", "notify", err)
		}
	}

	if result.Outcome == rollback.OutcomeSuccess {
		w.retire(path, ".done")
	} else {
		w.retire(path, ".failed")
	}
}

// parseTrigger reads a request file and fills missing fields from the
// configured defaults.
func (w *TriggerWatcher) parseTrigger(path string) (rollback.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rollback.Request{}, err
	}

	var req rollback.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return rollback.Request{}, err
	}

	if req.SiteName == "" {
		req.SiteName = w.defaults.SiteName
	}
	if req.SitePath == "" {
		req.SitePath = w.defaults.SitePath
	}
	if req.BackupPath == "" {
		req.BackupPath = w.defaults.BackupPath
	}
	if req.TempRoot == "" {
		req.TempRoot = w.defaults.TempRoot
	}
	if req.BackupRoot == "" {
		req.BackupRoot = w.defaults.BackupRoot
	}
	return req, nil
}

func (w *TriggerWatcher) retire(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil && !os.IsNotExist(err) {
		logger.LogError("watcher", "retire_trigger", err)
	}
}
