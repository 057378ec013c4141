package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowershellWrapsCommand(t *testing.T) {
	wrapped := Powershell(`Write-Host 'hello'`)
	assert.Equal(t, `powershell -Command "Write-Host 'hello'"`, wrapped)
}

func TestPowershellEscapesDoubleQuotes(t *testing.T) {
	wrapped := Powershell(`Write-Host "hello"`)
	assert.Equal(t, `powershell -Command "Write-Host \"hello\""`, wrapped)
}

func TestResultSuccess(t *testing.T) {
	assert.True(t, Result{ExitCode: 0}.Success())
	assert.False(t, Result{ExitCode: 1}.Success())
	assert.False(t, Result{ExitCode: -1}.Success())
}

func TestNewSSHExecutorRequiresCredentials(t *testing.T) {
	_, err := NewSSHExecutor(SSHConfig{Host: "server", Username: "admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password or ssh key path")
}

func TestNewSSHExecutorRejectsMissingKeyFile(t *testing.T) {
	_, err := NewSSHExecutor(SSHConfig{
		Host:     "server",
		Username: "admin",
		KeyPath:  "/does/not/exist/id_rsa",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key file not found")
}

func TestNewSSHExecutorDefaults(t *testing.T) {
	exec, err := NewSSHExecutor(SSHConfig{
		Host:     "server",
		Username: "admin",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, exec.config.Port)
	assert.Equal(t, 30*time.Second, exec.config.ConnectTimeout)
	assert.Equal(t, 120*time.Second, exec.config.CommandTimeout)
}

func TestExecuteWithoutConnectFails(t *testing.T) {
	exec, err := NewSSHExecutor(SSHConfig{
		Host:     "server",
		Username: "admin",
		Password: "secret",
	})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "hostname")
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "server", connErr.Host)
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(errors.New("ssh: unable to authenticate, attempted methods [none password]")))
	assert.True(t, isAuthFailure(errors.New("ssh: handshake failed: no supported methods remain")))
	assert.False(t, isAuthFailure(errors.New("dial tcp 10.0.0.1:22: connection refused")))
}
