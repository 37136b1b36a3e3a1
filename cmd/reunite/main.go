// Package main is the reunite CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/cli"
	"github.com/hyperjump/reunite/internal/config"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/prompts"
	"github.com/hyperjump/reunite/internal/server"
	"github.com/hyperjump/reunite/internal/watcher"
	"github.com/hyperjump/reunite/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/reunite/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists. Returns the config and the path that was actually loaded.
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
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "add-lost":
		runAdd(models.CollectionLost)
	case "add-found":
		runAdd(models.CollectionFound)
	case "get":
		runGet()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "reindex":
		runReindex()
	case "version", "--version", "-v":
		fmt.Printf("reunite version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger and initializes components for direct mode.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func parseFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	}
	fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", s)
	os.Exit(1)
	return ""
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Prompts.Dir != "" {
		w := newPromptWatcher(cfg.Prompts.Dir, components.Prompts, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start prompt watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Pipeline, components.Catalog, components.Status, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// newPromptWatcher reloads the prompt set whenever an override file in dir changes.
func newPromptWatcher(dir string, set *prompts.Set, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(dir, prompts.IsPromptFile, func(paths []string) {
		if err := set.LoadDir(dir); err != nil {
			logger.Warn("prompt reload failed, keeping previous prompts", zap.Strings("paths", paths), zap.Error(err))
			return
		}
		logger.Info("prompts reloaded", zap.Strings("paths", paths))
	}, watcher.WithLogger(logger))
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the pipeline in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging (direct mode)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Println("Usage: reunite match [flags] <item-id>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	itemID := fs.Arg(0)

	var verdict models.FinalVerdict
	if *serverURL != "" {
		if err := postJSON(*serverURL+"/match", models.MatchRequest{ItemID: itemID}, http.StatusOK, &verdict); err != nil {
			fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		v, err := components.Pipeline.Match(context.Background(), itemID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
			os.Exit(1)
		}
		verdict = *v
	}
	if err := cli.WriteVerdict(os.Stdout, &verdict, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(collection models.Collection) {
	name := "add-lost"
	if collection == models.CollectionFound {
		name = "add-found"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = write to storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	id := fs.String("id", "", "item id (default: generated)")
	itemName := fs.String("name", "", "item name")
	user := fs.String("user", "", "reporting user id")
	var description, color, location, when, imageURL, lat, lng *string
	if collection == models.CollectionLost {
		description = fs.String("description", "", "free-text description (required)")
		color = fs.String("color", "", "color")
		location = fs.String("location", "", "where it was lost")
		when = fs.String("time", "", "when it was lost")
	} else {
		imageURL = fs.String("image-url", "", "photo URL, http(s):// or s3:// (required)")
		lat = fs.String("lat", "", "latitude")
		lng = fs.String("lng", "", "longitude")
	}
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	fields := map[string]any{}
	setString(fields, models.FieldName, *itemName)
	setString(fields, models.FieldUserID, *user)
	if collection == models.CollectionLost {
		setString(fields, models.FieldDescription, *description)
		setString(fields, models.FieldColor, *color)
		setString(fields, models.FieldLocation, *location)
		setString(fields, models.FieldTime, *when)
		if *description == "" {
			fmt.Println("Usage: reunite add-lost --description <text> [flags]")
			os.Exit(1)
		}
	} else {
		setString(fields, models.FieldImageURL, *imageURL)
		for key, raw := range map[string]string{models.FieldLat: *lat, models.FieldLng: *lng} {
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid %s %q: %v\n", key, raw, err)
				os.Exit(1)
			}
			fields[key] = v
		}
		if *imageURL == "" {
			fmt.Println("Usage: reunite add-found --image-url <url> [flags]")
			os.Exit(1)
		}
	}
	fields[models.FieldStatus] = "open"

	var rec models.Record
	if *serverURL != "" {
		body := models.MergeFields(map[string]any{}, fields)
		if *id != "" {
			body["id"] = *id
		}
		if err := postJSON(*serverURL+"/api/v1/items/"+url.PathEscape(string(collection)), body, http.StatusCreated, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		r, err := components.Catalog.Add(context.Background(), collection, *id, fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
		rec = *r
	}
	if err := cli.WriteRecord(os.Stdout, &rec, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func setString(fields map[string]any, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fields[key] = value
	}
}

func runGet() {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() != 2 {
		fmt.Println("Usage: reunite get [flags] <lost|found> <item-id>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	collection, err := models.ParseCollection(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	id := fs.Arg(1)

	var rec models.Record
	if *serverURL != "" {
		u := *serverURL + "/api/v1/items/" + url.PathEscape(string(collection)) + "/" + url.PathEscape(id)
		if err := getJSON(u, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		r, err := components.Catalog.Get(context.Background(), collection, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
			os.Exit(1)
		}
		rec = *r
	}
	if err := cli.WriteRecord(os.Stdout, &rec, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// buildQuery joins all positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the positional arguments to the front so
// flag.Parse sees them. The flag package stops at the first non-flag argument.
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

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search the index directly)")
	limit := fs.Int("limit", 10, "number of results")
	collectionFlag := fs.String("collection", "", "restrict to lost or found")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: reunite search [flags] <query>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	var collection models.Collection
	if *collectionFlag != "" {
		c, err := models.ParseCollection(*collectionFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		collection = c
	}

	var resp cli.SearchResponse
	if *serverURL != "" {
		v := url.Values{}
		v.Set("q", query)
		v.Set("limit", strconv.Itoa(*limit))
		if collection != "" {
			v.Set("collection", string(collection))
		}
		if err := getJSON(*serverURL+"/api/v1/items/search?"+v.Encode(), &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		hits, err := components.Catalog.Search(context.Background(), query, collection, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		resp = cli.SearchResponse{Query: query, Total: len(hits), Hits: hits}
	}
	if err := cli.WriteSearchResults(os.Stdout, &resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status server.Status
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		st, err := components.Status.Collect(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *st
	}
	if err := writeStatus(os.Stdout, &status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func writeStatus(w io.Writer, status *server.Status, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "lost_items:           %d\n", status.LostItems)
	fmt.Fprintf(w, "found_items:          %d\n", status.FoundItems)
	fmt.Fprintf(w, "keyword_index_size:   %d   # items searchable by keyword\n", status.KeywordIndexSize)
	fmt.Fprintf(w, "embedding_cache_size: %d   # cached candidate embeddings\n", status.EmbeddingCacheSize)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:     %d   # storage + indices on disk\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "storage_backend:      %s\n", c.StorageBackend)
		fmt.Fprintf(w, "oracle_provider:      %s\n", c.OracleProvider)
		if c.EmbeddingDimensions > 0 {
			fmt.Fprintf(w, "embedding_dims:       %d\n", c.EmbeddingDimensions)
		}
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:        %s\n", c.DatabasePath)
		}
		if c.KeywordIndexPath != "" {
			fmt.Fprintf(w, "keyword_index_path:   %s\n", c.KeywordIndexPath)
		}
		if c.PromptsDir != "" {
			fmt.Fprintf(w, "prompts_dir:          %s\n", c.PromptsDir)
		}
	}
	return nil
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	n, err := components.Catalog.Rebuild(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d item(s)\n", n)
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func postJSON(u string, body any, wantStatus int, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(u, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, wantStatus, out)
}

func getJSON(u string, out any) error {
	resp, err := httpClient.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, http.StatusOK, out)
}

// decodeResponse decodes a JSON body, turning an unexpected status into an error that
// carries the server's {"error": msg} text when present.
func decodeResponse(resp *http.Response, wantStatus int, out any) error {
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`reunite - Lost-and-found matching service

Usage:
  reunite server [flags]                      Start the HTTP server
  reunite match [flags] <item-id>             Match a lost or found item against the other side
  reunite add-lost [flags]                    Report a lost item
  reunite add-found [flags]                   Report a found item
  reunite get [flags] <lost|found> <item-id>  Show a stored item
  reunite search [flags] <query>              Keyword search over both collections
  reunite status [flags]                      Show storage/index status
  reunite reindex [flags]                     Rebuild the keyword index from storage
  reunite version                             Show version
  reunite help                                Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/reunite/config.yaml)
  --server string    Server URL (default: http://localhost:8000). Use --server "" to work
                     against storage directly when the server is not running.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Add Flags:
  --id string        Item id (default: generated)
  --name string      Item name
  --user string      Reporting user id
  add-lost:  --description (required), --color, --location, --time
  add-found: --image-url (required), --lat, --lng

Search Flags:
  --limit int            Number of results (default: 10)
  --collection string    Restrict to lost or found

Environment:
  GEMINI_API_KEY                 Oracle API key (read from .env when present)
  S3_ACCESS_KEY, S3_SECRET_KEY   Credentials for s3:// image URLs

Examples:
  reunite server
  reunite add-lost --description "black leather wallet with student card" --color black
  reunite add-found --image-url https://i.ibb.co/abc/wallet.jpg --name wallet
  reunite match 5f1c2e
  reunite match --output json --server "" 5f1c2e
  reunite search --collection found wallet
  reunite status --output json`)
}
