package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpmonitor/internal/api"
	"gpmonitor/internal/audit"
	"gpmonitor/internal/config"
	"gpmonitor/internal/control"
	"gpmonitor/internal/docs"
	"gpmonitor/internal/logger"
	"gpmonitor/internal/metrics"
	"gpmonitor/internal/models"
	"gpmonitor/internal/platform"
	"gpmonitor/internal/resolver"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	defaultConfig := config.DefaultPath
	if p := os.Getenv("GPMONITOR_CONFIG"); p != "" {
		defaultConfig = p
	}

	configPath := flag.String("config", defaultConfig, "Path to the YAML configuration")
	port := flag.Int("port", 0, "Port to listen on (overrides the config)")
	listen := flag.String("listen", "", "Address to bind to (overrides the config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logger.Init(*verbose, "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration", err)
	}
	if cfg.LogFormat != "" {
		logger.Init(*verbose, cfg.LogFormat)
	}
	logger.Debug("configuration loaded", "path", *configPath, "config", cfg.Redacted())

	// Warn about security implications of non-localhost binding
	if cfg.Listen != "127.0.0.1" && cfg.Listen != "localhost" {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "╔════════════════════════════════════════════════════════════════╗")
		fmt.Fprintln(os.Stderr, "║                        ⚠️  WARNING ⚠️                            ║")
		fmt.Fprintln(os.Stderr, "╠════════════════════════════════════════════════════════════════╣")
		fmt.Fprintln(os.Stderr, "║  You are binding to a non-localhost address!                  ║")
		fmt.Fprintln(os.Stderr, "║                                                               ║")
		fmt.Fprintln(os.Stderr, "║  Anyone holding the API token who can reach this address can: ║")
		fmt.Fprintln(os.Stderr, "║    - Start, stop, restart and reload allow-listed services    ║")
		fmt.Fprintln(os.Stderr, "║    - Run allow-listed commands and read service logs          ║")
		fmt.Fprintln(os.Stderr, "║    - Reboot this server                                       ║")
		fmt.Fprintln(os.Stderr, "║                                                               ║")
		if cfg.TLSCertFile == "" {
			fmt.Fprintln(os.Stderr, "║  TLS is NOT configured. The token travels in clear text.      ║")
		}
		fmt.Fprintln(os.Stderr, "╚════════════════════════════════════════════════════════════════╝")
		fmt.Fprintln(os.Stderr, "")
	}

	mechanism, err := platform.Detect(cfg.Mechanism)
	if err != nil {
		fatal("Failed to detect platform", err)
	}
	logger.Info("Detected platform", "mechanism", mechanism)

	reg, err := cfg.Registry()
	if err != nil {
		fatal("Invalid service allow-list", err)
	}
	res := resolver.New(reg, mechanism, cfg.CommandSpecs())

	var dbus *platform.DBusBackend
	var dbusBackend platform.Backend
	if mechanism == models.MechanismDBus {
		dbus = platform.NewDBusBackend()
		dbusBackend = dbus
	}
	exec := platform.NewExecutor(platform.NewProcessBackend(), dbusBackend, cfg.ActionTimeout)

	m := metrics.New()

	sink, err := openAuditSink(cfg.Audit)
	if err != nil {
		fatal("Failed to open audit sink", err)
	}
	auditLog := audit.New(sink, cfg.Audit.Recent)
	auditLog.OnWriteFailure(m.AuditWriteFailed)

	ctl := control.New(control.Options{
		Resolver:          res,
		Services:          reg,
		Executor:          exec,
		Audit:             auditLog,
		Observe:           m.ObserveControl,
		StatusTimeout:     cfg.StatusTimeout,
		StatusConcurrency: cfg.StatusConcurrency,
		RebootDelay:       time.Duration(cfg.Reboot.DelayMinutes) * time.Minute,
	})

	docsFS, err := GetDocsFS()
	if err != nil {
		fatal("Failed to load docs", err)
	}

	router := api.NewRouter(api.Options{
		Controller: ctl,
		Audit:      auditLog,
		Services:   reg,
		Journal:    platform.NewJournal(),
		Docs:       docs.NewService(docsFS),
		Metrics:    m,
		Token:      cfg.APIToken,
		TrustProxy: cfg.TrustProxy,
		PerMinute:  cfg.RateLimit.PerMinute,
		Burst:      cfg.RateLimit.Burst,
		Version:    version,
		Mechanism:  string(res.Mechanism()),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Logger().Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		scheme := "http"
		var err error
		if cfg.TLSCertFile != "" {
			scheme = "https"
			logger.Info("Starting server", "url", fmt.Sprintf("%s://%s", scheme, srv.Addr), "services", len(cfg.Services))
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logger.Info("Starting server", "url", fmt.Sprintf("%s://%s", scheme, srv.Addr), "services", len(cfg.Services))
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	// SIGHUP reopens the audit file after logrotate moved it
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

wait:
	for {
		select {
		case err := <-serverErrors:
			if err != nil {
				logger.Error("Server failed", "error", err)
			}
			break wait
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := auditLog.Reopen(); err != nil {
					logger.Error("Failed to reopen audit log", "error", err)
				} else {
					logger.Info("Reopened audit log")
				}
				continue
			}
			logger.Info("Shutting down...", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown incomplete", "error", err)
			}
			cancel()
			break wait
		}
	}

	if dbus != nil {
		dbus.Close()
	}
	if err := auditLog.Close(); err != nil {
		logger.Warn("Failed to close audit sink", "error", err)
	}
}

func openAuditSink(c config.AuditConfig) (audit.Sink, error) {
	switch c.Sink {
	case config.SinkFile:
		return audit.NewFileSink(c.Path)
	case config.SinkSQLite:
		return audit.NewSQLiteSink(c.Path)
	default:
		logger.Warn("Audit sink disabled, events are kept in memory only")
		return nil, nil
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
