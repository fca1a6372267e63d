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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/blogpilot/internal/agents"
	"github.com/kalambet/blogpilot/internal/api"
	"github.com/kalambet/blogpilot/internal/blog"
	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/config"
	"github.com/kalambet/blogpilot/internal/llm"
	"github.com/kalambet/blogpilot/internal/pipeline"
	"github.com/kalambet/blogpilot/internal/retry"
	"github.com/kalambet/blogpilot/internal/schedule"
	"github.com/kalambet/blogpilot/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the blogpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running blogpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, queue and schedule status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "blogpilot.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "blogpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Ensure API token exists in platform secret store.
	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("blogpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("blogpilot is already running on port %d", cfg.Server.Port)
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

	// A crash leaves claimed items in_progress; return them before anything runs.
	if n, err := store.ResetInProgressItems(ctx); err != nil {
		return fmt.Errorf("recovering queue: %w", err)
	} else if n > 0 {
		slog.Warn("recovered abandoned queue items at startup", "count", n)
	}

	brandSrc, err := brand.NewSource(cfg.Brand.ProfilePath)
	if err != nil {
		return fmt.Errorf("loading brand profile: %w", err)
	}

	llmClient := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	blogClient := blog.NewClient(cfg.Blog.BaseURL, cfg.Blog.APIKey, cfg.Blog.AdminPassword)
	policy := retry.DefaultPolicy(cfg.Pipeline.MaxRetries)

	replenisher := pipeline.NewReplenisher(
		store,
		agents.NewStrategist(llmClient, cfg.LLM.TextModel, brandSrc),
		cfg.Replenish.LowWater,
		cfg.Replenish.BatchSize,
		policy,
	)
	orch := pipeline.New(pipeline.Deps{
		Store:     store,
		Writer:    agents.NewWriter(llmClient, cfg.LLM.TextModel, brandSrc),
		Editor:    agents.NewEditor(llmClient, cfg.LLM.TextModel, brandSrc),
		Images:    agents.NewIllustrator(llmClient, blogClient, cfg.LLM.ImageModel, brandSrc, cfg.Image.Width, cfg.Image.Height),
		Publisher: blogClient,
		Brand:     brandSrc,
	}, pipeline.Config{
		DraftThreshold:       cfg.Pipeline.DraftThreshold,
		AutoPublishThreshold: cfg.Pipeline.AutoPublishThreshold,
		SEOChecklistSize:     agents.ChecklistSize(),
		RunTimeout:           cfg.RunTimeoutDuration(),
		Retry:                policy,
	}).WithReplenisher(replenisher)

	settings := schedule.NewManager(store)
	runner := schedule.NewRunner(settings, func(ctx context.Context) {
		res := orch.RunTriggered(ctx)
		slog.Info("scheduled run finished", "status", res.Status, "post_id", res.PostID, "error", res.Error)
	})

	handler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Pipeline:    orch,
		Replenisher: replenisher,
		Schedule:    settings,
		Posts:       blogClient,
		Token:       apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "blogpilot listening on %s\n", addr)
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

	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})

	g.Go(func() error {
		// Without the watcher the last loaded profile stays in use.
		if err := brandSrc.Watch(gctx); err != nil {
			slog.Warn("brand profile hot reload disabled", "error", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:       store,
			Pipeline:    orch,
			Replenisher: replenisher,
			Schedule:    settings,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	err = g.Wait()
	replenisher.Wait()
	return err
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
		printError("blogpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop blogpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to blogpilot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	var health healthResponse
	resp, err := client.Get(serverURL + "/health")
	running := err == nil
	if !running {
		printStatus("Server", "stopped")
	} else if decodeJSON(resp, &health) != nil {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		running = false
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	}

	printStatus("Text model", "%s", cfg.LLM.TextModel)
	printStatus("Image model", "%s", cfg.LLM.ImageModel)
	printStatus("Blog", "%s", cfg.Blog.BaseURL)
	printStatus("Thresholds", "hold below %d, auto-publish at %d",
		cfg.Pipeline.DraftThreshold, cfg.Pipeline.AutoPublishThreshold)

	if running {
		if health.Schedule == nil || !health.Schedule.Active {
			printStatus("Schedule", "paused")
		} else {
			printStatus("Schedule", "%s (%s)", strings.Join(health.Schedule.RunTimes, ", "), health.Schedule.Timezone)
			if len(health.Schedule.NextRuns) > 0 {
				printStatus("Next run", "%s", health.Schedule.NextRuns[0].Format(time.RFC1123))
			}
		}

		if c, err := newAPIClient(); err == nil {
			if items, err := fetchQueue(ctx, c, "pending", 500); err == nil {
				printStatus("Pending topics", "%s", countLabel(len(items), 500))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

type healthResponse struct {
	Status   string        `json:"status"`
	Schedule *scheduleView `json:"schedule"`
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
