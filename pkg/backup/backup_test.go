package backup

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iis-rollback/pkg/remote"
)

type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	handler  func(command string) (remote.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, command string) (remote.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(command)
	}
	return remote.Result{}, nil
}

func (f *fakeExecutor) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

const backupPath = `E:\Backups\MyWebsite`

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		listing string
		want    Kind
	}{
		{"single archive", "1|1", KindArchive},
		{"single archive with siblings", "1|5", KindArchive},
		{"two archives", "2|2", KindAmbiguous},
		{"many archives", "4|9", KindAmbiguous},
		{"plain files only", "0|3", KindDirectory},
		{"nothing at all", "0|0", KindEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{handler: func(string) (remote.Result, error) {
				return remote.Result{Stdout: tt.listing}, nil
			}}

			kind, err := NewManager(exec).Classify(context.Background(), backupPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestClassifyListingFailureIsPrecondition(t *testing.T) {
	exec := &fakeExecutor{handler: func(string) (remote.Result, error) {
		return remote.Result{ExitCode: 2, Stderr: "path not found"}, nil
	}}

	_, err := NewManager(exec).Classify(context.Background(), backupPath)
	require.Error(t, err)

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, backupPath, pre.Path)
}

func TestClassifyGarbageOutputIsPrecondition(t *testing.T) {
	exec := &fakeExecutor{handler: func(string) (remote.Result, error) {
		return remote.Result{Stdout: "not-a-count"}, nil
	}}

	_, err := NewManager(exec).Classify(context.Background(), backupPath)

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestClassifyTransportErrorPropagates(t *testing.T) {
	exec := &fakeExecutor{handler: func(string) (remote.Result, error) {
		return remote.Result{}, &remote.ConnectionError{Host: "server", Err: assert.AnError}
	}}

	_, err := NewManager(exec).Classify(context.Background(), backupPath)
	require.Error(t, err)

	var connErr *remote.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestStageDirectoryIsNoOp(t *testing.T) {
	exec := &fakeExecutor{}

	staging, err := NewManager(exec).Stage(context.Background(), backupPath, KindDirectory, `E:\Temp`, time.Now())
	require.NoError(t, err)

	assert.Equal(t, backupPath, staging.SourcePath)
	assert.False(t, staging.IsTemporary)
	assert.Empty(t, exec.recorded(), "directory staging must issue no remote commands")
}

func TestStageArchiveExpandsIntoTimestampedTempDir(t *testing.T) {
	zipPath := backupPath + `\site.zip`
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		if strings.Contains(command, "Select-Object -First 1") {
			return remote.Result{Stdout: zipPath}, nil
		}
		return remote.Result{Stdout: "Extraction complete"}, nil
	}}

	startedAt := time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)
	staging, err := NewManager(exec).Stage(context.Background(), backupPath, KindArchive, `E:\Temp`, startedAt)
	require.NoError(t, err)

	assert.True(t, staging.IsTemporary)
	assert.Equal(t, `E:\Temp\Rollback_20240520_103000`, staging.SourcePath)

	commands := exec.recorded()
	require.Len(t, commands, 2)
	assert.Contains(t, commands[1], "Expand-Archive")
	assert.Contains(t, commands[1], zipPath)
	assert.Contains(t, commands[1], staging.SourcePath)
}

func TestStageExpansionFailureRemovesPartialTempDir(t *testing.T) {
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		switch {
		case strings.Contains(command, "Select-Object -First 1"):
			return remote.Result{Stdout: backupPath + `\site.zip`}, nil
		case strings.Contains(command, "Expand-Archive"):
			return remote.Result{ExitCode: 1, Stderr: "corrupt archive"}, nil
		default:
			return remote.Result{Stdout: "Cleanup complete"}, nil
		}
	}}

	_, err := NewManager(exec).Stage(context.Background(), backupPath, KindArchive, `E:\Temp`, time.Now())
	require.Error(t, err)

	var stagingErr *StagingError
	require.ErrorAs(t, err, &stagingErr)

	commands := exec.recorded()
	last := commands[len(commands)-1]
	assert.Contains(t, last, "Remove-Item")
	assert.Contains(t, last, `Rollback_`)
}

func TestStageRefusesUnstageableKinds(t *testing.T) {
	manager := NewManager(&fakeExecutor{})

	for _, kind := range []Kind{KindEmpty, KindAmbiguous} {
		_, err := manager.Stage(context.Background(), backupPath, kind, `E:\Temp`, time.Now())
		require.Error(t, err, kind.String())
	}
}

func TestSnapshotCreatesVerifiedBackup(t *testing.T) {
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		switch {
		case strings.Contains(command, "New-Item"):
			return remote.Result{Stdout: "Created"}, nil
		case strings.HasPrefix(command, "robocopy"):
			return remote.Result{ExitCode: 1}, nil
		default:
			return remote.Result{Stdout: "12|12"}, nil
		}
	}}

	startedAt := time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)
	record, err := NewManager(exec).Snapshot(context.Background(), `E:\Web Sites\MyWebsite`, `E:\Web Sites Backups\MyWebsite`, "MyWebsite", startedAt)
	require.NoError(t, err)

	assert.Equal(t, `E:\Web Sites Backups\MyWebsite\PreRollback_20240520_103000`, record.Path)
	assert.Equal(t, startedAt, record.CreatedAt)
}

func TestSnapshotAcknowledgesEmptyLiveSite(t *testing.T) {
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		switch {
		case strings.Contains(command, "New-Item"):
			return remote.Result{Stdout: "Created"}, nil
		case strings.HasPrefix(command, "robocopy"):
			return remote.Result{ExitCode: 0}, nil
		default:
			return remote.Result{Stdout: "0|0"}, nil
		}
	}}

	record, err := NewManager(exec).Snapshot(context.Background(), `E:\Web Sites\Empty`, `E:\Backups`, "Empty", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, record.Path)
}

func TestSnapshotEmptyResultForNonEmptySiteFails(t *testing.T) {
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		switch {
		case strings.Contains(command, "New-Item"):
			return remote.Result{Stdout: "Created"}, nil
		case strings.HasPrefix(command, "robocopy"):
			return remote.Result{ExitCode: 0}, nil
		default:
			return remote.Result{Stdout: "7|0"}, nil
		}
	}}

	_, err := NewManager(exec).Snapshot(context.Background(), `E:\Web Sites\MyWebsite`, `E:\Backups`, "MyWebsite", time.Now())
	require.Error(t, err)

	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Contains(t, backupErr.Detail, "live site holds 7 files")
}

func TestSnapshotRobocopyFailureFails(t *testing.T) {
	exec := &fakeExecutor{handler: func(command string) (remote.Result, error) {
		switch {
		case strings.Contains(command, "New-Item"):
			return remote.Result{Stdout: "Created"}, nil
		case strings.HasPrefix(command, "robocopy"):
			return remote.Result{ExitCode: 8, Stderr: "copy error"}, nil
		default:
			return remote.Result{Stdout: "0|0"}, nil
		}
	}}

	_, err := NewManager(exec).Snapshot(context.Background(), `E:\Web Sites\MyWebsite`, `E:\Backups`, "MyWebsite", time.Now())

	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
}

func TestCleanupStagingSkipsNonTemporary(t *testing.T) {
	exec := &fakeExecutor{}

	err := NewManager(exec).CleanupStaging(context.Background(), StagingContext{SourcePath: backupPath, IsTemporary: false})
	require.NoError(t, err)
	assert.Empty(t, exec.recorded())
}

func TestParseCounts(t *testing.T) {
	first, second, err := parseCounts(" 3|14 ")
	require.NoError(t, err)
	assert.Equal(t, 3, first)
	assert.Equal(t, 14, second)

	_, _, err = parseCounts("3")
	assert.Error(t, err)

	_, _, err = parseCounts("a|b")
	assert.Error(t, err)
}

func TestJoinWin(t *testing.T) {
	assert.Equal(t, `E:\Temp\Rollback_1`, joinWin(`E:\Temp\`, "Rollback_1"))
	assert.Equal(t, `E:\Temp\Rollback_1`, joinWin(`E:\Temp`, "Rollback_1"))
}
