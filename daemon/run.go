package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/swapdhq/swapd"
)

// Run starts the swap daemon and blocks until it has shut down again.
func Run() error {
	config := DefaultConfig()

	// Parse command line flags.
	parser := flags.NewParser(&config, flags.Default)
	parser.SubcommandsOptional = true

	_, err := parser.Parse()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	}
	if err != nil {
		return err
	}

	// Parse ini file.
	swapdDir := lncfg.CleanAndExpandPath(config.SwapdDir)
	configFile := getConfigPath(config, swapdDir)

	if err := flags.IniParse(configFile, &config); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the
		// config file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return err
		}
	}

	// Parse command line flags again to restore flags overwritten by ini
	// parse.
	_, err = parser.Parse()
	if err != nil {
		return err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if config.ShowVersion {
		fmt.Println(appName, "version", swapd.Version())
		os.Exit(0)
	}

	// Hook interceptor for os signals. The loggers request shutdown
	// through it on critical errors and the daemon context below is
	// cancelled by it.
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	logWriter := build.NewRotatingLogWriter()
	logCfg := build.DefaultLogConfig()
	logCfg.File.MaxLogFiles = config.MaxLogFiles
	logCfg.File.MaxLogFileSize = config.MaxLogFileSize

	logMgr := build.NewSubLoggerManager(build.NewDefaultLogHandlers(
		logCfg, logWriter,
	)...)
	SetupLoggers(logMgr, shutdownInterceptor)

	// Special show command to list supported subsystems and exit.
	if config.DebugLevel == "show" {
		fmt.Printf("Supported subsystems: %v\n",
			logMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Validate our config before we proceed.
	if err := Validate(&config); err != nil {
		return err
	}

	// Initialize logging at the default logging level.
	err = logWriter.InitLogRotator(
		logCfg.File,
		filepath.Join(config.LogDir, defaultLogFilename),
	)
	if err != nil {
		return err
	}

	err = build.ParseAndSetDebugLevels(config.DebugLevel, logMgr)
	if err != nil {
		return err
	}

	log.Infof("Version: %v", swapd.Version())

	// Tie the daemon's lifetime to the signal interceptor. Cancelling the
	// context winds down every component.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-shutdownInterceptor.ShutdownChannel()
		log.Infof("Received shutdown signal")
		cancel()
	}()

	err = New(&config).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Infof("Shutdown complete")

	return nil
}
