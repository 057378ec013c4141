package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iis-rollback/pkg/rollback"
)

func watcherDefaults() rollback.Request {
	return rollback.Request{
		SiteName:   "MyWebsite",
		SitePath:   `E:\Web Sites\MyWebsite`,
		BackupPath: `E:\Backups\MyWebsite`,
		TempRoot:   `E:\Temp`,
		BackupRoot: `E:\Web Sites Backups\MyWebsite`,
	}
}

func TestParseTriggerMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backup_path": "E:\\Backups\\Hotfix"}`), 0644))

	watcher := NewTriggerWatcher(dir, watcherDefaults(), nil, nil)
	req, err := watcher.parseTrigger(path)
	require.NoError(t, err)

	assert.Equal(t, "MyWebsite", req.SiteName)
	assert.Equal(t, `E:\Backups\Hotfix`, req.BackupPath)
	assert.Equal(t, `E:\Temp`, req.TempRoot)
}

func TestParseTriggerRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	watcher := NewTriggerWatcher(dir, watcherDefaults(), nil, nil)
	_, err := watcher.parseTrigger(path)
	assert.Error(t, err)
}

func TestWatcherRunsTriggerAndRetiresFile(t *testing.T) {
	dir := t.TempDir()

	ran := make(chan rollback.Request, 1)
	run := func(ctx context.Context, req rollback.Request) *rollback.Result {
		ran <- req
		return &rollback.Result{
			RunID:    uuid.New(),
			SiteName: req.SiteName,
			Outcome:  rollback.OutcomeSuccess,
		}
	}

	watcher := NewTriggerWatcher(dir, watcherDefaults(), run, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- watcher.Start(ctx)
	}()

	// Let the watch get established before dropping the trigger.
	time.Sleep(100 * time.Millisecond)

	trigger := filepath.Join(dir, "rollback.json")
	require.NoError(t, os.WriteFile(trigger, []byte(`{"site_name": "Hotfix"}`), 0644))

	select {
	case req := <-ran:
		assert.Equal(t, "Hotfix", req.SiteName)
		assert.Equal(t, `E:\Backups\MyWebsite`, req.BackupPath)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not handled")
	}

	require.Eventually(t, func() bool {
		_, err := os.Stat(trigger + ".done")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "trigger file must be renamed after handling")

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherMarksFailedRuns(t *testing.T) {
	dir := t.TempDir()

	run := func(ctx context.Context, req rollback.Request) *rollback.Result {
		return &rollback.Result{
			RunID:    uuid.New(),
			SiteName: req.SiteName,
			Outcome:  rollback.OutcomeFailed,
		}
	}

	watcher := NewTriggerWatcher(dir, watcherDefaults(), run, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Start(ctx)

	time.Sleep(100 * time.Millisecond)

	trigger := filepath.Join(dir, "rollback.json")
	require.NoError(t, os.WriteFile(trigger, []byte(`{}`), 0644))

	require.Eventually(t, func() bool {
		_, err := os.Stat(trigger + ".failed")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}
