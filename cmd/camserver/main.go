// Command camserver runs the multi-camera streaming server described by a
// TOML configuration file, generalizing the teacher's single-binary
// main.go entry point (flag parsing, logger construction, signal-driven
// graceful shutdown) to N configured cameras (§4.11, §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"camserver/config"
	"camserver/server"
)

const (
	defaultConfigPath = "config.toml"
	appName           = "camserver"
	appVersion        = "1.0.0"
)

// Exit codes (§6): 0 clean shutdown, 1 startup failure, 2 forced/timed-out
// shutdown.
const (
	exitOK = iota
	exitStartupFailure
	exitForcedShutdown
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return exitOK
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		return exitStartupFailure
	}
	defer logger.Sync()

	logger.Info("starting camserver",
		zap.String("version", appVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	cfg, err := config.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return exitStartupFailure
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct server", zap.Error(err))
		return exitStartupFailure
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- srv.Run(ctx) }()

	select {
	case sig := <-signalCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-runErrCh:
		if err != nil {
			logger.Error("server exited with error", zap.Error(err))
			return exitStartupFailure
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeouts.ShutdownSeconds)*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
		return exitForcedShutdown
	}

	logger.Info("shutdown complete")
	return exitOK
}

// newLogger builds a structured console logger, following the teacher's
// level-mapping/encoder-config shape but writing to stdout/stderr only —
// this module's target is a container/SBC process supervised externally,
// not a self-rotating log directory.
func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
