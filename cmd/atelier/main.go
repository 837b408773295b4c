package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atelier-dev/atelier/internal/approval"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/term"
	"github.com/atelier-dev/atelier/internal/tools"
	"github.com/atelier-dev/atelier/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		workspaceFlag = flag.String("workspace", ".", "workspace root directory")
		addrFlag      = flag.String("addr", "localhost:8732", "listen address")
		configFlag    = flag.String("config", "", "path to config file")
	)
	flag.Parse()

	workspace, err := filepath.Abs(*workspaceFlag)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return fmt.Errorf("workspace is not a directory: %s", workspace)
	}

	cfg, err := config.Load(*configFlag, workspace)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	logger.Info("atelier starting, workspace %s", workspace)

	workspaceFS := fs.NewWorkspaceFS(workspace, time.Duration(cfg.CacheTTLSecs)*time.Second, 256)
	defer workspaceFS.Close()

	store, err := session.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	apiKey := cfg.APIKey()
	if apiKey == "" {
		logger.Warn("no API key found in $%s; model requests will fail", cfg.Model.APIKeyEnvVar)
	}
	client, err := llm.NewHTTPClient(apiKey, cfg.Model.BaseURL, cfg.Model.Name)
	if err != nil {
		return err
	}

	gate := approval.NewGate(time.Duration(cfg.ApprovalTimeoutSecs) * time.Second)

	server, err := web.NewServer(*addrFlag, &web.Deps{
		Cfg:      cfg,
		Store:    store,
		Gate:     gate,
		FS:       workspaceFS,
		LLM:      client,
		Services: tools.NoopLanguageServices{},
	})
	if err != nil {
		return err
	}

	return serve(server, gate, workspace)
}

func serve(server *web.Server, gate *approval.Gate, workspace string) error {
	// The terminal endpoint shares the server's token check; an unauthorized
	// upgrade must never reach a shell.
	terminals := term.NewHandler(workspace, server.Authorized)
	server.Handle("/term", terminals)

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Printf("atelier listening at %s\n", server.URL())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutdown signal received")

	// Fail pending approvals first so no turn stays suspended forever.
	gate.Close()
	terminals.Close()
	return server.Stop()
}
