package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// InitLogger initializes the logger with file output and structured formatting
func InitLogger(logDir string) error {
	Log = logrus.New()

	// Create logs directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	// Create journal.log file
	journalPath := filepath.Join(logDir, "journal.log")
	file, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Set up multi-writer to write to both file and stdout
	multiWriter := io.MultiWriter(os.Stdout, file)
	Log.SetOutput(multiWriter)

	// Set JSON formatter for structured logging
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	// Set log level
	Log.SetLevel(logrus.InfoLevel)

	Log.Info("Logger initialized successfully")
	return nil
}

// LogStep logs a single orchestration step outcome
func LogStep(step, siteName string, success bool, detail string) {
	level := logrus.InfoLevel
	if !success {
		level = logrus.ErrorLevel
	}

	Log.WithFields(logrus.Fields{
		"step":      step,
		"site_name": siteName,
		"success":   success,
		"detail":    detail,
		"component": "orchestrator",
	}).Log(level, "Rollback step")
}

// LogRemoteCommand logs remote command execution
func LogRemoteCommand(command string, exitCode int, success bool) {
	level := logrus.DebugLevel
	if !success {
		level = logrus.WarnLevel
	}

	Log.WithFields(logrus.Fields{
		"command":   command,
		"exit_code": exitCode,
		"success":   success,
		"component": "remote",
	}).Log(level, "Remote command executed")
}

// LogSiteControl logs site stop/start operations
func LogSiteControl(operation, siteName, state string, success bool) {
	level := logrus.InfoLevel
	if !success {
		level = logrus.ErrorLevel
	}

	Log.WithFields(logrus.Fields{
		"operation": operation,
		"site_name": siteName,
		"state":     state,
		"success":   success,
		"component": "site_control",
	}).Log(level, "Site control operation")
}

// LogBackup logs preventive backup and staging operations
func LogBackup(operation, sourcePath, backupPath string, success bool) {
	level := logrus.InfoLevel
	if !success {
		level = logrus.ErrorLevel
	}

	Log.WithFields(logrus.Fields{
		"operation":   operation,
		"source_path": sourcePath,
		"backup_path": backupPath,
		"success":     success,
		"component":   "backup",
	}).Log(level, "Backup operation")
}

// LogError logs general errors
func LogError(component, operation string, err error) {
	Log.WithFields(logrus.Fields{
		"component": component,
		"operation": operation,
		"error":     err.Error(),
	}).Error("Operation failed")
}

func init() {
	// Callers are expected to run InitLogger; the default keeps package-level
	// logging usable from tests without a journal file.
	Log = logrus.New()
	Log.SetLevel(logrus.WarnLevel)
}
