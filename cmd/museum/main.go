// Command museum is the visitor side of a space: the terminal viewer plus
// curator and demo helpers that talk to museumd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/logging"
	intOtel "github.com/watashi-museum/museum/internal/otel"
	"github.com/watashi-museum/museum/internal/session"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const component = "museum"

var (
	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	OTelProvider *intOtel.Provider

	// Session tags every log record with the visitor session and space.
	Session *session.Context

	SessionStartTime = time.Now()
)

func main() {
	configDir := flag.String("config", ".", "directory holding museum.cfg.json")
	flag.Usage = usage
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	os.Exit(run(*configDir, flag.Args()))
}

// run executes one command and returns the exit code. Logs are flushed and
// closed before it returns.
func run(configDir string, args []string) int {
	Session = session.NewContext(identity.NewSessionID())
	closeLogs := setupLogging(configDir)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "walk"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "walk":
		err = runWalk(ctx, args)
	case "frame":
		err = runFrame(ctx, args, os.Stdout)
	case "demo":
		err = runDemo(ctx, args, os.Stdout)
	default:
		usage()
		return 2
	}
	if err != nil {
		Logger.Error("Command failed", "command", cmd, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: museum [-config dir] [command]

Commands:
  walk [-space id] [-edit]          visit a space in the terminal (default)
  frame set -space id -slot id ...  curate one frame
  demo [image-url ...]              create a demo space, optionally hanging pictures
`)
}

// setupLogging loads the config and sends logs to a session file. The
// terminal belongs to the viewer, so nothing is written to stderr once the
// file is open.
func setupLogging(configDir string) func() {
	SlogManager = logging.NewSlogManager()
	SlogManager.SetSession(Session)
	SlogManager.Setup(os.Stderr, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	}

	level := viper.GetString("logLevel")
	var logFile io.Writer = io.Discard
	closers := []func(){}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	} else {
		path := logging.LogFilePath(logsDir, component, SessionStartTime)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			Logger.Error("Failed to create/open log file!", "error", err, "path", path)
		} else {
			logFile = f
			closers = append(closers, func() { _ = f.Close() })
		}
	}

	otelCfg := config.GetOTelConfig()
	var otelLogProvider *sdklog.LoggerProvider
	if otelCfg.Enabled {
		p, err := intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			Version:      Version,
			Component:    component,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			OTelProvider = p
			otelLogProvider = p.LoggerProvider()
			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = p.Shutdown(ctx)
			})
		}
	}

	var extra []slog.Handler
	if viper.GetBool("graylog.enabled") {
		addr := viper.GetString("graylog.address")
		w, err := logging.NewGELFWriter(addr)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", addr)
		} else {
			extra = append(extra, logging.NewGELFHandler(w, level))
		}
	}

	SlogManager.Setup(logFile, level, otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	Logger.Info("museum starting", "version", Version, "buildDate", BuildDate)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = SlogManager.Flush(ctx)
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
