package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/herald/internal/api"
	"github.com/kalambet/herald/internal/config"
	"github.com/kalambet/herald/internal/generate"
	"github.com/kalambet/herald/internal/ledger"
	"github.com/kalambet/herald/internal/llm"
	"github.com/kalambet/herald/internal/pipeline"
	"github.com/kalambet/herald/internal/publish"
	"github.com/kalambet/herald/internal/schedule"
	"github.com/kalambet/herald/internal/scoring"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the herald server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running herald server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show herald system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "herald.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "herald version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("HERALD_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.APIToken == "" {
		return fmt.Errorf("missing API token: set HERALD_API_TOKEN")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("herald is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("herald is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the generation side.
	client, err := llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}
	var reviewer *generate.Reviewer
	if cfg.LLM.ReviewEnabled {
		reviewer = generate.NewReviewer(client)
	}
	orchestrator := generate.NewOrchestrator(client, reviewer)
	learner := voice.NewLearner(client)
	voiceStore := voice.NewStore(store)

	// Wire the pipeline. Live sources are optional; externally pushed
	// signals arrive through the API and flow in via the mirror.
	gatherer := pipeline.NewGatherer(nil, nil, nil, store)
	controller := pipeline.NewController(
		store,
		gatherer,
		scoring.NewDefault(),
		ledger.New(store),
		orchestrator,
		voiceStore,
		learner,
		nil,
		pipeline.Config{
			ScoreThreshold:     cfg.Pipeline.ScoreThreshold,
			InterItemDelay:     time.Duration(cfg.Pipeline.InterItemDelaySec) * time.Second,
			ProfileMaxAgeHours: cfg.Pipeline.ProfileMaxAgeHours,
		},
	)

	// Start publish worker.
	worker := publish.NewWorker(store, publish.NewLogPublisher(), 2*time.Second)
	go worker.Run(ctx)

	// Schedule recurring runs when configured.
	if cfg.Pipeline.Schedule != "" {
		sched, err := schedule.New(cfg.Pipeline.Timezone)
		if err != nil {
			return err
		}
		err = sched.AddJob("pipeline", cfg.Pipeline.Schedule, func(jobCtx context.Context) error {
			_, err := controller.Run(jobCtx)
			if errors.Is(err, pipeline.ErrRunInProgress) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Voice:      voiceStore,
		Learner:    learner,
		Controller: controller,
	}, cfg.Server.APIToken)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Build and start MCP server (SSE transport on its own port).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Voice:      voiceStore,
		Learner:    learner,
		Controller: controller,
	})
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "herald listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sseSrv.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
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
		printError("herald is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop herald (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to herald (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := httpClient.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM model", "%s", cfg.LLM.Model)
	printStatus("Review", "%s", map[bool]string{true: "enabled", false: "disabled"}[cfg.LLM.ReviewEnabled])
	if cfg.Pipeline.Schedule != "" {
		printStatus("Schedule", "%s (%s)", cfg.Pipeline.Schedule, cfg.Pipeline.Timezone)
	} else {
		printStatus("Schedule", "manual runs only")
	}

	// Show run/content counts if server is running.
	if running && cfg.Server.APIToken != "" {
		client := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Server.APIToken,
			httpClient: httpClient,
		}
		ctx := context.Background()

		if resp, err := client.get(ctx, "/runs?limit=1"); err == nil {
			var runs []struct {
				State      string `json:"state"`
				FinishedAt string `json:"finished_at"`
			}
			if decodeJSON(resp, &runs) == nil && len(runs) == 1 {
				printStatus("Last run", "%s %s", runs[0].State, runs[0].FinishedAt)
			}
		}
		if resp, err := client.get(ctx, "/content?limit=100"); err == nil {
			var content []struct {
				ID string `json:"id"`
			}
			if decodeJSON(resp, &content) == nil {
				printStatus("Drafts", "%s", countLabel(len(content), 100))
			}
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
