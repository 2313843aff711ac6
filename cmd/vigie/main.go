// Command vigie watches LinkedIn profiles for job changes.
//
// Usage:
//
//	vigie                              # monitor loop with defaults
//	vigie -config vigie.yaml           # monitor loop with a config file
//	vigie add <profile-url> [name]     # put a profile under watch
//	vigie remove <profile-url>         # stop watching a profile
//	vigie list                         # show the watchlist and exit
//	vigie once                         # run a single check pass and exit
//	vigie status                       # show monitor status and exit
//	vigie test-email                   # send a test notification and exit
//	vigie serve                        # monitor loop plus HTTP API and MCP
//
// Credentials come from the environment (or a .env file): LINKEDIN_EMAIL,
// LINKEDIN_PASSWORD, SMTP_USERNAME, SMTP_PASSWORD, NOTIFICATION_EMAIL.
package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vigie/audit"
	"github.com/hazyhaar/vigie/channels"
	"github.com/hazyhaar/vigie/dbopen"
	"github.com/hazyhaar/vigie/mcpquic"
	"github.com/hazyhaar/vigie/profwatch"
	"github.com/hazyhaar/vigie/shield"
	"github.com/hazyhaar/vigie/trace"
)

type cliOptions struct {
	configPath string
	addr       string
	mcpAddr    string
	tlsCert    string
	tlsKey     string
	traceSQL   bool
	args       []string
}

func main() {
	configPath := flag.String("config", "", "path to vigie.yaml config file")
	addr := flag.String("addr", "", "HTTP API listen address (serve mode, overrides config)")
	mcpAddr := flag.String("mcp-addr", "", "MCP QUIC listen address (serve mode, empty disables)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate for the MCP listener")
	tlsKey := flag.String("tls-key", "", "TLS key for the MCP listener")
	traceSQL := flag.Bool("trace", false, "record SQL traces to traces.db in the data dir")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cliOptions{
		configPath: *configPath,
		addr:       *addr,
		mcpAddr:    *mcpAddr,
		tlsCert:    *tlsCert,
		tlsKey:     *tlsKey,
		traceSQL:   *traceSQL,
		args:       flag.Args(),
	}
	if err := run(ctx, logger, opts); err != nil {
		logger.Error("vigie: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts cliOptions) error {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := resolveConfig(opts.configPath)
	if err != nil {
		return err
	}
	cfg.LoadEnv()
	if opts.addr != "" {
		cfg.API.Addr = opts.addr
	}

	verb := "run"
	args := opts.args
	if len(args) > 0 {
		verb = args[0]
		args = args[1:]
	}

	// One-shot: test the notification channel. Needs no database.
	if verb == "test-email" {
		email := channels.NewEmail(cfg.Notify.Email, logger)
		if !email.Enabled() {
			return fmt.Errorf("email is not configured (set SMTP_USERNAME, SMTP_PASSWORD, NOTIFICATION_EMAIL)")
		}
		if err := email.TestMessage(ctx); err != nil {
			return fmt.Errorf("test email: %w", err)
		}
		fmt.Println("test email sent to", cfg.Notify.Email.To)
		return nil
	}

	dbOpts := []dbopen.Option{dbopen.WithMkdirAll()}
	if opts.traceSQL {
		// The trace store opens with the raw driver so its own writes are
		// not traced in turn.
		traceDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "traces.db"), dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open trace database: %w", err)
		}
		defer traceDB.Close()
		traceStore := trace.NewStore(traceDB)
		if err := traceStore.Init(); err != nil {
			return fmt.Errorf("trace init: %w", err)
		}
		trace.SetStore(traceStore)
		defer traceStore.Close()
		dbOpts = append(dbOpts, dbopen.WithDriver("sqlite-trace"))
	}

	db, err := dbopen.Open(filepath.Join(cfg.DataDir, cfg.DBFile), dbOpts...)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	auditLog := audit.NewSQLiteLogger(db)
	if err := auditLog.Init(); err != nil {
		return fmt.Errorf("audit init: %w", err)
	}

	svc, err := profwatch.New(db, cfg, logger, profwatch.WithAudit(auditLog))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	switch verb {
	case "run":
		return runMonitor(ctx, logger, svc, cfg)
	case "once":
		return runOnce(ctx, svc)
	case "status":
		return runStatus(ctx, svc, cfg)
	case "add":
		return runAdd(ctx, svc, args)
	case "remove":
		return runRemove(ctx, svc, args)
	case "list":
		return runList(ctx, svc)
	case "serve":
		return runServe(ctx, logger, svc, db, cfg, opts)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", verb)
		usage()
		os.Exit(1)
	}
	return nil
}

func resolveConfig(path string) (*profwatch.Config, error) {
	if path != "" {
		return profwatch.LoadConfigFile(path)
	}
	return profwatch.DefaultConfig(), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vigie [flags] [add <url> [name] | remove <url> | list | once | status | test-email | serve]")
	flag.PrintDefaults()
}

// runMonitor is the default daemon mode: scheduler plus worker loop, no
// network surface.
func runMonitor(ctx context.Context, logger *slog.Logger, svc *profwatch.Service, cfg *profwatch.Config) error {
	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("vigie: running", "interval", cfg.Check.Interval.String())

	<-ctx.Done()
	logger.Info("vigie: shutting down")
	return nil
}

// runOnce drains a single check pass and prints the report.
func runOnce(ctx context.Context, svc *profwatch.Service) error {
	report, err := svc.RunBatch(ctx)
	if err != nil {
		return fmt.Errorf("check pass: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runStatus(ctx context.Context, svc *profwatch.Service, cfg *profwatch.Config) error {
	stats, err := svc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	watched, err := svc.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	recent, err := svc.ChangeHistory(ctx, "", 10)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"check_interval": cfg.Check.Interval.String(),
		"notify_mode":    cfg.Notify.Mode,
		"stats":          stats,
		"watched":        watched,
		"recent_changes": recent,
	})
}

func runAdd(ctx context.Context, svc *profwatch.Service, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vigie add <profile-url> [name]")
	}
	name := strings.Join(args[1:], " ")
	wp, err := svc.AddProfile(ctx, args[0], name)
	if err != nil {
		return err
	}
	fmt.Println("watching", wp.Identity)
	return nil
}

func runRemove(ctx context.Context, svc *profwatch.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vigie remove <profile-url>")
	}
	if err := svc.RemoveProfile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("no longer watching", args[0])
	return nil
}

func runList(ctx context.Context, svc *profwatch.Service) error {
	profiles, err := svc.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(profiles)
}

// runServe is the full daemon: monitor loop, HTTP API, and optionally the
// MCP tool surface over QUIC.
func runServe(ctx context.Context, logger *slog.Logger, svc *profwatch.Service, db *sql.DB, cfg *profwatch.Config, opts cliOptions) error {
	if err := svc.Start(ctx); err != nil {
		return err
	}

	if opts.mcpAddr != "" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "vigie",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)

		var tlsCfg *tls.Config
		var err error
		if opts.tlsCert != "" && opts.tlsKey != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(opts.tlsCert, opts.tlsKey)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			return fmt.Errorf("mcp tls: %w", err)
		}

		ql, err := mcpquic.NewListener(opts.mcpAddr, tlsCfg, mcpSrv, logger)
		if err != nil {
			return fmt.Errorf("mcp listener: %w", err)
		}
		defer ql.Close()
		go func() {
			logger.Info("MCP QUIC starting", "addr", opts.mcpAddr)
			if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("MCP QUIC", "error", err)
			}
		}()
	}

	if err := shield.Init(db); err != nil {
		return fmt.Errorf("shield init: %w", err)
	}
	rl := shield.NewRateLimiter(db, "/health")
	rl.StartReloader(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Use(rl.Middleware)
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("HTTP API starting", "addr", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("vigie: http server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("vigie: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("vigie: http shutdown", "error", err)
	}
	return nil
}
