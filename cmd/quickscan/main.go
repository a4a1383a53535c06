package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/quickscan/internal/app"
	"github.com/zombor/quickscan/internal/export"
	"github.com/zombor/quickscan/internal/library"
	"github.com/zombor/quickscan/internal/scan"
	"github.com/zombor/quickscan/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("quickscan")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "quickscan.db", "Library database file path")
		exportsPath    = fs.StringLong("exports", "./exports", "Directory for exported PDF documents")
		enhancerType   = fs.StringLong("enhancer", "gemini", "Enhancement backend: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY / API_KEY)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		enhanceTimeout = fs.DurationLong("enhance-timeout", scan.DefaultEnhanceTimeout, "Time limit for one enhancement attempt")
		pro            = fs.BoolLong("pro", "Start in the pro tier (no watermark)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("QUICKSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	storage, err := app.NewLocalStorage(*exportsPath)
	if err != nil {
		slog.Error("Failed to initialize export storage", "error", err)
		os.Exit(1)
	}

	enhancer, err := newEnhancer(*enhancerType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel, *enhanceTimeout)
	if err != nil {
		slog.Error("Failed to initialize enhancer", "error", err)
		os.Exit(1)
	}
	defer enhancer.Close()
	if !enhancer.Available() {
		slog.Info("No enhancement credentials configured, scans will use basic mode")
	}

	slog.Info("Opening library...", "path", *dbPath)
	store, err := library.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to open library database", "error", err)
		enhancer.Close()
		os.Exit(1)
	}

	tier := export.TierFree
	if *pro {
		tier = export.TierPro
	}
	state := app.NewState(store, tier)
	state.Init()
	defer func() {
		if err := state.Close(); err != nil {
			slog.Error("Failed to save library", "error", err)
		}
	}()

	pipeline := scan.NewPipeline(enhancer, state.Library(), *enhanceTimeout)
	defer pipeline.Close()

	service := app.NewService(pipeline, state, enhancer, export.NewExporter(), storage)
	server := app.NewServer(service, app.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

// newEnhancer builds the configured backend. A missing Gemini key is not an
// error: the backend reports itself unavailable and scans degrade.
func newEnhancer(kind, geminiKey, geminiModel, ollamaURL, ollamaModel string, timeout time.Duration) (scanning.Enhancer, error) {
	switch kind {
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			apiKey = os.Getenv("API_KEY")
		}
		slog.Info("Initializing Gemini enhancer...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel, timeout)
	case "ollama":
		slog.Info("Initializing Ollama enhancer...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel, timeout)
	default:
		return nil, fmt.Errorf("invalid enhancer type %q, expected gemini or ollama", kind)
	}
}
