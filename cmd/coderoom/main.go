package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antonkrylov/coderoom/internal/config"
	"github.com/antonkrylov/coderoom/internal/events"
	"github.com/antonkrylov/coderoom/internal/exec"
	"github.com/antonkrylov/coderoom/internal/sandbox"
	"github.com/antonkrylov/coderoom/internal/server"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to yaml config file (CODEROOM_CONFIG)")
		listenAddr    = flag.String("listen", "", "HTTP listen address (CODEROOM_LISTEN)")
		logJSON       = flag.Bool("log-json", false, "emit logs as JSON")
		useSandbox    = flag.Bool("use-sandbox", false, "execute via the remote sandbox instead of local processes (CODEROOM_USE_SANDBOX)")
		sandboxURL    = flag.String("sandbox-url", "", "remote sandbox base URL (CODEROOM_SANDBOX_URL)")
		workspaceRoot = flag.String("workspace", "", "workspace root for run directories (CODEROOM_WORKSPACE)")
		pythonCmd     = flag.String("python-cmd", "", "python interpreter used for runs (CODEROOM_PYTHON_CMD)")
		ptyRuns       = flag.Bool("pty-runs", false, "run programs under a pseudo-terminal")
		natsURL       = flag.String("nats-url", "", "NATS URL for the event tap (CODEROOM_NATS_URL)")
		natsUser      = flag.String("nats-user", "", "NATS username (CODEROOM_NATS_USER)")
		natsPass      = flag.String("nats-pass", "", "NATS password (CODEROOM_NATS_PASS)")
	)
	var allowedOrigins stringSliceFlag
	flag.Var(&allowedOrigins, "allowed-origin", "allowed websocket origin; repeatable (CODEROOM_CORS_ORIGIN)")
	flag.Parse()

	applyEnvFallback(configPath, "CODEROOM_CONFIG")
	applyEnvFallback(listenAddr, "CODEROOM_LISTEN")
	applyEnvFallback(sandboxURL, "CODEROOM_SANDBOX_URL")
	applyEnvFallback(workspaceRoot, "CODEROOM_WORKSPACE")
	applyEnvFallback(pythonCmd, "CODEROOM_PYTHON_CMD")
	applyEnvFallback(natsURL, "CODEROOM_NATS_URL")
	applyEnvFallback(natsUser, "CODEROOM_NATS_USER")
	applyEnvFallback(natsPass, "CODEROOM_NATS_PASS")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	if *useSandbox || os.Getenv("CODEROOM_USE_SANDBOX") == "true" {
		cfg.UseSandbox = true
	}
	if *sandboxURL != "" {
		cfg.SandboxURL = *sandboxURL
	}
	if *workspaceRoot != "" {
		cfg.WorkspaceRoot = *workspaceRoot
	}
	if *pythonCmd != "" {
		cfg.PythonCmd = *pythonCmd
	}
	if *ptyRuns {
		cfg.PTYRuns = true
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	} else if env := os.Getenv("CODEROOM_CORS_ORIGIN"); env != "" && len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = strings.Split(env, ",")
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *natsUser != "" {
		cfg.NATS.User = *natsUser
	}
	if *natsPass != "" {
		cfg.NATS.Password = *natsPass
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		logger.Error("workspace init", "err", err)
		os.Exit(1)
	}

	tap, err := events.Connect(events.Options{
		URL:           cfg.NATS.URL,
		User:          cfg.NATS.User,
		Password:      cfg.NATS.Password,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, logger)
	if err != nil {
		logger.Error("events tap", "err", err)
		os.Exit(1)
	}
	defer tap.Close()

	orch := exec.NewOrchestrator(cfg.WorkspaceRoot, cfg.PythonCmd, logger)
	orch.UsePTY = cfg.PTYRuns

	opts := server.Options{
		Logger:         logger,
		Orchestrator:   orch,
		AllowedOrigins: config.ExpandOrigins(cfg.AllowedOrigins),
		Tap:            tap,
		BaseContext:    ctx,
	}
	if cfg.UseSandbox {
		opts.Sandbox = sandbox.NewClient(cfg.SandboxURL, logger)
	}
	srv := server.New(opts)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Routes()}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
	}()

	mode := "local"
	if cfg.UseSandbox {
		mode = "sandbox"
	}
	logger.Info("server ready", "addr", cfg.Listen, "execution", mode, "workspace", cfg.WorkspaceRoot)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
}

func applyEnvFallback(target *string, envKey string) {
	if target == nil || *target != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*target = val
	}
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
