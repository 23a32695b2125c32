// Package main is the Shiori CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/mcpserver"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/retrieval"
	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/watcher"
	"github.com/hyperjump/shiori/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiori/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "shiori serve" from the project dir uses the project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	// API keys and remote credentials may come from .env; a missing file is fine.
	_ = godotenv.Load()

	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "mcp":
		runMCP()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "build":
		runBuild()
	case "update":
		runUpdate()
	case "status":
		runStatus()
	case "publish":
		runPublish()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("shiori version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// mustLoad loads the config and a logger for a command. cliLogger selects the
// quiet stderr console logger used by one-shot commands.
func mustLoad(path string, debug, cliLogger bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	newLogger := utils.NewLogger
	if cliLogger {
		newLogger = utils.NewCLILogger
	}
	logger, err := newLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return cfg, resolved, logger
}

// startWatcher feeds debounced corpus changes into mgr.Update. It returns nil
// when watching is disabled.
func startWatcher(ctx context.Context, cfg *config.Config, mgr *indexer.Manager, logger *zap.Logger) (*watcher.Watcher, error) {
	if !cfg.Watch.Enabled {
		return nil, nil
	}
	w := watcher.NewWatcher(
		[]string{mgr.CorpusRoot()},
		mgr.Extensions(),
		cfg.Corpus.RecursiveOrDefault(),
		func(ctx context.Context, paths []string) error {
			_, err := mgr.Update(ctx, paths)
			return err
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := mustLoad(*configPath, *debug, false)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// a failed initial build leaves the server up and answering 409 until a rebuild
	if _, err := components.Manager.LoadOrBuild(ctx); err != nil {
		logger.Error("initial index load failed", zap.Error(err))
	}

	var watch server.WatchService
	w, err := startWatcher(ctx, cfg, components.Manager, logger)
	if err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	if w != nil {
		defer w.Stop()
		watch = w
	}

	srv := server.NewServer(components.Retrieval, components.Manager, &cfg.Server, logger, watch)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runMCP() {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	transport := fs.String("transport", "", "override mcp.transport: stdio or sse")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(os.Args[2:])

	// stdio owns stdout, so logs go to the stderr console logger
	cfg, _, logger := mustLoad(*configPath, *debug, true)
	defer logger.Sync()
	if *transport != "" {
		cfg.MCP.Transport = *transport
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()
	if _, err := components.Manager.LoadOrBuild(ctx); err != nil {
		logger.Error("initial index load failed", zap.Error(err))
	}
	w, err := startWatcher(ctx, cfg, components.Manager, logger)
	if err != nil {
		fatalf("Failed to start watcher: %v", err)
	}
	if w != nil {
		defer w.Stop()
	}

	s := mcpserver.CreateServer(version, components.Retrieval, components.Manager, logger)
	if err := mcpserver.Run(ctx, s, cfg.MCP, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// joinArgs joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// localSearcher answers from this process: through the Manager when the
// storage root is free, otherwise from a read-only copy of the published
// snapshot.
func localSearcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*retrieval.Service, func()) {
	components, err := initializeComponents(ctx, cfg, logger)
	if err == nil {
		if _, err := components.Manager.LoadOrBuild(ctx); err != nil {
			components.Close()
			fatalf("Index not available: %v", err)
		}
		return components.Retrieval, components.Close
	}
	if !errors.Is(err, indexer.ErrLocked) {
		fatalf("Failed to initialize: %v", err)
	}
	logger.Debug("storage root is locked, reading the published snapshot")
	ro, err := openReadOnly(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to open index: %v", err)
	}
	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		ro.Close()
		fatalf("Failed to initialize generator: %v", err)
	}
	svc := retrieval.NewService(ro.snap, ro.embedder, generator, retrievalOptions(cfg.Retrieval), retrieval.WithLogger(logger))
	return svc, ro.Close
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (e.g. http://localhost:8080); empty answers in-process")
	verbose := fs.Bool("verbose", false, "print the retrieved passages")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: shiori ask [flags] <question>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	var answer *models.Answer
	if *serverURL != "" {
		var err error
		answer, err = answerViaHTTP(*serverURL, question)
		if err != nil {
			fatalf("Ask failed: %v", err)
		}
	} else {
		cfg, _, logger := mustLoad(*configPath, *debug, true)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		svc, closeFn := localSearcher(ctx, cfg, logger)
		defer closeFn()
		var err error
		answer, err = svc.Answer(ctx, question)
		if err != nil {
			closeFn()
			fatalf("Ask failed: %v", err)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, answer, format, *verbose); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty searches in-process")
	k := fs.Int("k", 0, "number of passages (default retrieval.top_k)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := &models.SearchQuery{Query: joinArgs(fs.Args()), K: *k}
	if query.Query == "" {
		fmt.Fprintln(os.Stderr, "Usage: shiori search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	var response *models.SearchResponse
	if *serverURL != "" {
		var err error
		response, err = searchViaHTTP(*serverURL, query)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		cfg, _, logger := mustLoad(*configPath, *debug, true)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		svc, closeFn := localSearcher(ctx, cfg, logger)
		defer closeFn()
		var err error
		response, err = svc.Search(ctx, query)
		if err != nil {
			closeFn()
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "ask a running server to rebuild instead")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var report *indexer.BuildReport
	var err error
	if *serverURL != "" {
		report, err = indexViaHTTP(*serverURL, "/api/v1/index/build", nil)
	} else {
		report, err = withManager(*configPath, *debug, func(ctx context.Context, mgr *indexer.Manager) (*indexer.BuildReport, error) {
			return mgr.Build(ctx)
		})
	}
	if err != nil {
		fatalf("Build failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runUpdate() {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "ask a running server to update instead")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)
	paths := fs.Args()

	var report *indexer.BuildReport
	var err error
	if *serverURL != "" {
		if len(paths) == 0 {
			fatalf("update --server needs at least one path")
		}
		report, err = indexViaHTTP(*serverURL, "/api/v1/index/update", &models.UpdateRequest{Paths: paths})
	} else {
		report, err = withManager(*configPath, *debug, func(ctx context.Context, mgr *indexer.Manager) (*indexer.BuildReport, error) {
			// loading rescans the corpus against the manifest, which already
			// covers any stale paths
			report, err := mgr.LoadOrBuild(ctx)
			if err != nil || len(paths) == 0 || report.Kind != "load" {
				return report, err
			}
			return mgr.Update(ctx, paths)
		})
	}
	if err != nil {
		fatalf("Update failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// withManager runs fn against a Manager holding the storage lock.
func withManager(configPath string, debug bool, fn func(context.Context, *indexer.Manager) (*indexer.BuildReport, error)) (*indexer.BuildReport, error) {
	cfg, _, logger := mustLoad(configPath, debug, true)
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	return fn(ctx, components.Manager)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty reads the published snapshot from disk")
	verbose := fs.Bool("v", false, "also print the first stored chunks")
	records := fs.Int("records", 5, "number of chunks printed with -v")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	if *serverURL != "" {
		st, err := statusViaHTTP(*serverURL)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		if err := cli.WriteStatus(os.Stdout, *st, nil, format); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}

	cfg, _, logger := mustLoad(*configPath, false, true)
	defer logger.Sync()
	ro, err := openReadOnly(context.Background(), cfg, logger)
	if errors.Is(err, indexer.ErrNoSnapshot) {
		st := indexer.Status{State: indexer.StateEmpty.String()}
		if err := cli.WriteStatus(os.Stdout, st, nil, format); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}
	if err != nil {
		fatalf("Failed to open index: %v", err)
	}
	defer ro.Close()

	var recs []*models.Record
	if *verbose {
		recs = firstRecords(ro.snap, *records)
	}
	if err := cli.WriteStatus(os.Stdout, ro.Status(), recs, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// firstRecords returns up to n records in index order.
func firstRecords(snap *indexer.Snapshot, n int) []*models.Record {
	var out []*models.Record
	for _, id := range snap.Index.IDs() {
		if len(out) >= n {
			break
		}
		if rec, err := snap.Docs.Get(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func runPublish() {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (stderr)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := mustLoad(*configPath, *debug, true)
	defer logger.Sync()
	if cfg.Remote.Type == "" {
		fatalf("No remote store configured (set remote.type in %s)", *configPath)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()
	if _, err := components.Manager.LoadOrBuild(ctx); err != nil {
		components.Close()
		fatalf("Index not available: %v", err)
	}
	if err := components.Manager.Publish(ctx); err != nil {
		components.Close()
		fatalf("Publish failed: %v", err)
	}
	st := components.Manager.Status()
	fmt.Printf("Published snapshot %s (%d chunks) to %s://%s\n", st.SnapshotID, st.Chunks, cfg.Remote.Type, strings.Trim(cfg.Remote.Bucket+"/"+cfg.Remote.Prefix, "/"))
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*path); err == nil && !*force {
		fatalf("%s already exists (use --force to overwrite)", *path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*path, cfg); err != nil {
		fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", *path)
}

func printUsage() {
	fmt.Println(`shiori - Question answering over a folder of notes

Usage:
  shiori serve [flags]              Build or load the index and start the HTTP server
  shiori mcp [flags]                Serve the index as MCP tools (stdio or sse)
  shiori ask [flags] <question>     Answer a question from the notes
  shiori search [flags] <query>     Show the closest passages without generating
  shiori build [flags]              Rebuild the index from scratch
  shiori update [flags] [paths]     Re-index changed files (all when no paths)
  shiori status [flags]             Show index status
  shiori publish [flags]            Upload the current snapshot to the remote store
  shiori init [flags]               Write a config file with defaults
  shiori version                    Show version
  shiori help                       Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shiori/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Ask/Search/Build/Update/Status Flags:
  --server string    Talk to a running server (e.g. http://localhost:8080) instead of
                     opening the index in-process
  --output string    Output format: text or json (default: text)

Ask Flags:
  --verbose          Print the retrieved passages

Search Flags:
  --k int            Number of passages (default: retrieval.top_k)

Status Flags:
  -v                 Also print the first stored chunks
  --records int      Number of chunks printed with -v (default: 5)

MCP Flags:
  --transport string stdio or sse (default: mcp.transport)

Examples:
  shiori init
  shiori serve
  shiori ask what causes the seasons
  shiori ask --server http://localhost:8080 --verbose "who wrote the treaty?"
  shiori search -k 8 photosynthesis
  shiori update notes/week3.md
  shiori status -v
  shiori status --output json`)
}
