// Command museumd runs the space service: the shared pose and frame store,
// picture uploads and the viewer stream.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/dispatcher"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/influx"
	"github.com/watashi-museum/museum/internal/logging"
	"github.com/watashi-museum/museum/internal/monitor"
	intOtel "github.com/watashi-museum/museum/internal/otel"
	"github.com/watashi-museum/museum/internal/server"
	"github.com/watashi-museum/museum/internal/worker"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const component = "museumd"

var (
	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	OTelProvider *intOtel.Provider

	// dbLog backs the gorm and influx loggers.
	dbLog zerolog.Logger

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
	closeLogs := setupLogging(configDir)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx)
	case "token":
		err = runToken(args, os.Stdout)
	case "export":
		err = runExport(ctx, args, os.Stdout)
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
	fmt.Fprintf(os.Stderr, `Usage: museumd [-config dir] [command]

Commands:
  serve                      run the space service (default)
  token -user id [-name n]   issue a curator token
  export [-gzip] space       print the frames of a space as JSON
`)
}

// setupLogging loads the config, then points the slog manager at a session
// log file plus OTel and Graylog when they are enabled.
func setupLogging(configDir string) func() {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(os.Stderr, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	}

	level := viper.GetString("logLevel")
	var logFile io.Writer = os.Stderr
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
			logFile = io.MultiWriter(os.Stderr, f)
			closers = append(closers, func() { _ = f.Close() })
			Logger.Info("Begin logging in logs directory", "path", path)
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
	dbLog = logging.NewZerolog(logFile, level)

	Logger.Info("museumd starting", "version", Version, "buildDate", BuildDate)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = SlogManager.Flush(ctx)
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// serve runs the space service until ctx is done.
func serve(ctx context.Context) error {
	storageCfg := config.GetStorageConfig()
	backend, closeDB, err := createStorageBackend(storageCfg)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	defer closeDB()
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer backend.Close()
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)

	eventDispatcher, err := dispatcher.New(Logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	workerManager := worker.NewManager(worker.Dependencies{
		Logger:       Logger,
		WriteTimeout: viper.GetDuration("presence.publishTimeout"),
	}, backend)
	workerManager.RegisterHandlers(eventDispatcher)

	authCfg := config.GetAuthConfig()
	var tokens *identity.Provider
	if authCfg.Secret != "" {
		tokens = identity.NewProvider(authCfg.Secret, authCfg.TokenTTL)
	} else {
		Logger.Warn("auth.secret is empty, only demo spaces accept frame writes")
	}

	serverCfg := config.GetServerConfig()
	var blobs blob.Store
	if serverCfg.BlobDir != "" {
		blobs = blob.NewFS(serverCfg.BlobDir, serverCfg.PublicURL+"/blobs")
	}

	srv := server.New(server.Dependencies{
		Store:      backend,
		Dispatcher: eventDispatcher,
		Visitors:   workerManager.Visitors(),
		Tokens:     tokens,
		Blobs:      blobs,
		BlobDir:    serverCfg.BlobDir,
		IssuerKey:  authCfg.IssuerKey,
		Logger:     Logger,
	})

	var metrics monitor.PresenceWriter
	if viper.GetBool("influx.enabled") {
		backupPath := filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("%s_presence_%s.lp.gz", component, SessionStartTime.Format("20060102_150405")))
		m := influx.NewManager(dbLog, backupPath)
		if err := m.Connect(); err != nil {
			Logger.Error("Failed to set up InfluxDB", "error", err)
		} else {
			metrics = m
			defer m.Close()
		}
	}

	monitorCfg := config.GetMonitorConfig()
	monitorService := monitor.NewService(monitor.Dependencies{
		Store:      backend,
		Visitors:   workerManager.Visitors(),
		Conns:      srv.Hub(),
		Metrics:    metrics,
		Logger:     Logger,
		Interval:   monitorCfg.Interval,
		PruneAfter: monitorCfg.PruneAfter,
		StatusFile: monitorCfg.StatusFile,
	})
	if err := monitorService.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	defer monitorService.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(serverCfg.Listen) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	Logger.Info("Space service is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	Logger.Info("Space service exited")
	return nil
}
