package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"iis-rollback/pkg/backup"
	"iis-rollback/pkg/config"
	"iis-rollback/pkg/iis"
	"iis-rollback/pkg/logger"
	"iis-rollback/pkg/notify"
	"iis-rollback/pkg/remote"
	"iis-rollback/pkg/rollback"
)

// Command-line flags
var (
	siteFlag    = flag.String("site", "", "IIS site name (overrides config)")
	backupFlag  = flag.String("backup", "", "Remote backup source path (overrides config)")
	configFlag  = flag.String("config", "./config.json", "Path to configuration file")
	watchFlag   = flag.Bool("watch", false, "Watch the trigger directory for rollback request files")
	versionFlag = flag.Bool("version", false, "Show version information")
	helpFlag    = flag.Bool("help", false, "Show help information")
)

const (
	Version = "1.0.0"
	AppName = "IIS Site Rollback"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *helpFlag {
		showHelp()
		return 0
	}
	if *versionFlag {
		fmt.Printf("%s v%s\n", AppName, Version)
		return 0
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if *siteFlag != "" {
		cfg.Site.Name = *siteFlag
	}
	if *backupFlag != "" {
		cfg.Site.BackupPath = *backupFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	if err := logger.InitLogger(cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	// Shut down cleanly on SIGINT/SIGTERM; in-flight remote commands finish
	// before the run terminates.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	executor, err := remote.NewSSHExecutor(remote.SSHConfig{
		Host:           cfg.SSH.Host,
		Port:           cfg.SSH.Port,
		Username:       cfg.SSH.Username,
		Password:       cfg.SSH.Password,
		KeyPath:        cfg.SSH.KeyPath,
		ConnectTimeout: cfg.GetConnectTimeout(),
		CommandTimeout: cfg.GetCommandTimeout(),
	})
	if err != nil {
		logger.LogError("main", "build_executor", err)
		return 1
	}
	if err := executor.Connect(ctx); err != nil {
		logger.LogError("main", "connect", err)
		return 1
	}
	defer executor.Close()

	controller := iis.NewController(executor, iis.ControllerConfig{
		StopPollAttempts:  cfg.Rollback.StopPollAttempts,
		StopPollInterval:  cfg.GetStopPollInterval(),
		StartPollAttempts: cfg.Rollback.StartPollAttempts,
		StartPollInterval: cfg.GetStartPollInterval(),
	})
	backups := backup.NewManager(executor)
	registry := rollback.NewRegistry()
	orchestrator := rollback.New(controller, backups, registry, rollback.Policy{
		StartAfterCopyFailure: cfg.Rollback.StartAfterCopyFailure,
	})
	notifier := notify.NewEmailNotifier(notify.Config{
		SMTPServer: cfg.Notify.SMTPServer,
		SMTPPort:   cfg.Notify.SMTPPort,
		Sender:     cfg.Notify.Sender,
		Password:   cfg.Notify.Password,
		Recipients: cfg.Notify.Recipients,
		UseTLS:     cfg.Notify.UseTLS,
	})

	defaults := rollback.Request{
		SiteName:   cfg.Site.Name,
		SitePath:   cfg.Site.Path,
		BackupPath: cfg.Site.BackupPath,
		TempRoot:   cfg.Site.TempRoot,
		BackupRoot: cfg.Site.BackupRoot,
	}

	if *watchFlag {
		watcher := NewTriggerWatcher(cfg.TriggerPath, defaults, orchestrator.Run, notifier)
		if err := watcher.Start(ctx); err != nil {
			logger.LogError("main", "watch", err)
			return 1
		}
		return 0
	}

	result := orchestrator.Run(ctx, defaults)
	if err := notifier.Notify(result); err != nil {
		// Best-effort: the outcome stands regardless of delivery.
		logger.LogError("main", "notify", err)
	}

	return result.Outcome.ExitCode()
}

func showHelp() {
	fmt.Printf("%s v%s\n\n", AppName, Version)
	fmt.Println("Rolls an IIS site back to a backup over SSH.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  iis-rollback --site <name> --backup <path> [--config ./config.json]")
	fmt.Println("  iis-rollback --watch")
	fmt.Println()
	fmt.Println("Exit codes: 0 success, 1 failed, 2 aborted (ambiguous or empty backup).")
	fmt.Println()
	flag.PrintDefaults()
}
