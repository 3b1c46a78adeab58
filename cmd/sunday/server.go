package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sunday/internal/api"
	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/completion"
	"github.com/kalambet/sunday/internal/composer"
	"github.com/kalambet/sunday/internal/config"
	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/turn"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sunday server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sunday server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sunday server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sunday.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "sunday version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sunday is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sunday is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	backendKey := cfg.Backend.APIKey
	if backendKey == "" {
		backendKey = cfg.Server.Token
	}
	registry := turn.NewRegistry(turn.Deps{
		Backend:      completion.NewClient(cfg.Backend.URL, backendKey),
		Store:        store,
		Integrations: store,
		Mail:         mail.GmailFactory(),
		Composer:     composer.New(cfg.Mail.ContextTokens),
		MailLimit:    cfg.Mail.MaxResults,
		MailQuery:    cfg.Mail.Query,
		Logger:       slog.Default(),
	}, store.GetThread)

	// Each operation takes a fresh snapshot so `sunday config set` applies
	// without a restart.
	aiConfig := func() chat.AIConfig {
		latest, err := config.Load()
		if err != nil {
			slog.Warn("reloading config failed, using startup values", "error", err)
			return cfg.ChatAI()
		}
		return latest.ChatAI()
	}

	var relay http.Handler
	if cfg.RelayEnabled() {
		client := openai.NewClient(
			option.WithAPIKey(cfg.Relay.OpenAIAPIKey),
			option.WithBaseURL(cfg.Relay.BaseURL),
		)
		relay = api.NewRelayHandler(client, slog.Default())
		slog.Info("completion relay enabled", "upstream", cfg.Relay.BaseURL)
	} else {
		slog.Info("completion relay disabled: no OpenAI API key configured")
	}

	handler := api.NewRouter(api.AppDeps{
		Store:       store,
		Registry:    registry,
		AI:          aiConfig,
		Token:       cfg.Server.Token,
		DefaultUser: cfg.User.ID,
		Logger:      slog.Default(),
	}, relay)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "sunday listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Registry: registry,
			AI:       aiConfig,
			UserID:   cfg.User.ID,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("sunday is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sunday (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sunday (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Backend", "%s", cfg.Backend.URL)
	if cfg.RelayEnabled() {
		printStatus("Relay", "enabled (%s)", cfg.Relay.BaseURL)
	} else {
		printStatus("Relay", "disabled")
	}
	printStatus("Model", "%s (image: %s)", cfg.AI.Model, cfg.AI.ImageModel)
	printStatus("User", "%s", cfg.User.ID)

	if running {
		var st api.IntegrationStatus
		if resp, err := client.get(ctx, "/integrations/gmail"); err == nil && decodeJSON(resp, &st) == nil {
			if st.Linked {
				printStatus("Gmail", "linked")
			} else {
				printStatus("Gmail", "not linked")
			}
		}
		var threads []storage.ThreadSummary
		if resp, err := client.get(ctx, "/threads?limit=100"); err == nil && decodeJSON(resp, &threads) == nil {
			printStatus("Threads", "%s", countLabel(len(threads), 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
