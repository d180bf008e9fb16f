// spinboard - leaderboard client for the spin game
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ernie/spinboard/internal/api"
	"github.com/ernie/spinboard/internal/app"
	"github.com/ernie/spinboard/internal/config"
	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/leaderboard"
	"github.com/ernie/spinboard/internal/scores"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "name":
		cmdName(os.Args[2:])
	case "submit":
		cmdSubmit(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "whoami":
		cmdWhoami(os.Args[2:])
	case "signout":
		cmdSignout(os.Args[2:])
	case "version":
		fmt.Printf("spinboard %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: spinboard <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the HTTP API and leaderboard refresher")
	fmt.Println("  name                                Choose or change your player handle")
	fmt.Println("  submit <score>                      Record your latest score")
	fmt.Println("  leaderboard [--top N] [--watch]     Show top scores (default: 10)")
	fmt.Println("  whoami                              Show the bound handle")
	fmt.Println("  signout                             Forget the bound handle")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default: user config dir)")
	fmt.Println()
	fmt.Println("Leaderboard Options:")
	fmt.Println("  --url <url>        Read from a running spinboard server instead of the store")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SPINBOARD_REMOTE_URL, SPINBOARD_REMOTE_API_KEY, SPINBOARD_REMOTE_DSN,")
	fmt.Println("  SPINBOARD_CACHE_PATH, SPINBOARD_LOG_LEVEL and friends override the file")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  spinboard name")
	fmt.Println("  spinboard submit 42")
	fmt.Println("  spinboard leaderboard --top 20 --watch")
	fmt.Println("  spinboard serve --config ~/.config/spinboard/config.yml")
}

// defaultConfigPath returns the per-user config file if it exists
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "spinboard", "config.yml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig resolves the config path and loads it
func loadConfig(configPath string) *config.Config {
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	return cfg
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp loads config and wires the application. CLI commands log warnings
// and above only so degraded-mode chatter does not drown the output.
func openApp(configPath string, cli bool) *app.App {
	cfg := loadConfig(configPath)
	if cli && cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	a, err := app.New(cfg, newLogger(cfg, os.Stderr))
	if err != nil {
		fatal("%v", err)
	}
	return a
}

// cmdServe starts the HTTP API and the leaderboard refresher
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	a := openApp(*configPath, false)
	defer a.Close()
	logger := a.Logger

	logger.Info("spinboard starting", "version", version, "remote", a.Config.Remote.Driver)

	addr := fmt.Sprintf("%s:%d", a.Config.Server.ListenAddr, a.Config.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("leaderboard refresher started", "interval", a.Config.Leaderboard.RefreshInterval)
		return a.Poller.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// cmdName runs the interactive handle registration
func cmdName(args []string) {
	fs := flag.NewFlagSet("name", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	a := openApp(*configPath, true)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.RegisterIdentity(ctx, newTerminalPrompter(os.Stdin, os.Stdout))
	if err != nil {
		a.Close()
		fatal("%v", err)
	}
	if !res.Admitted {
		fmt.Println("Cancelled.")
		return
	}
	fmt.Printf("You are now %s.\n", res.Handle)
	if res.Notice != "" {
		fmt.Printf("Note: %s\n", res.Notice)
	}
}

// cmdSubmit records a score for the bound handle
func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fatal("usage: spinboard submit <score>")
	}
	score, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fatal("score must be a whole number: %q", fs.Arg(0))
	}

	a := openApp(*configPath, true)
	defer a.Close()

	receipt, err := a.SubmitScore(context.Background(), score)
	if err != nil {
		a.Close()
		switch {
		case errors.Is(err, domain.ErrNoIdentity):
			fatal("no handle registered; run 'spinboard name' first")
		case errors.Is(err, domain.ErrInvalidScore):
			fatal("%v", err)
		}
		fatal("%s %v", scores.NoticeFailed, err)
	}
	fmt.Println(receipt.Notice)
}

// cmdLeaderboard prints the top scores, optionally refreshing until interrupted
func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	url := fs.String("url", "", "base URL of a spinboard server")
	limit := fs.Int("top", 0, "number of rows to show (default from config)")
	watch := fs.Bool("watch", false, "keep refreshing")
	fs.Parse(args)

	if *url != "" {
		if *watch {
			fatal("--watch is not supported with --url")
		}
		path := "/api/leaderboard"
		if *limit > 0 {
			path += fmt.Sprintf("?limit=%d", *limit)
		}
		var board domain.Board
		if err := getJSON(*url, path, &board); err != nil {
			fatal("%v", err)
		}
		printBoard(os.Stdout, board)
		return
	}

	a := openApp(*configPath, true)
	defer a.Close()

	if !*watch {
		printBoard(os.Stdout, a.Leaderboard(context.Background(), *limit))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := a.Poller
	if *limit > 0 {
		poller = leaderboard.NewPoller(a.Aggregator, *limit, a.Config.Leaderboard.RefreshInterval, a.Logger)
	}
	go poller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case board := <-poller.Updates():
			// Clear screen and redraw
			fmt.Print("\033[H\033[2J")
			printBoard(os.Stdout, board)
		}
	}
}

// cmdWhoami prints the bound handle
func cmdWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	a := openApp(*configPath, true)
	defer a.Close()

	h, ok := a.Session.Handle()
	if !ok {
		fmt.Println("No handle registered.")
		return
	}
	fmt.Printf("%s (session %s, since %s)\n", h, a.Session.ID(), a.Session.BoundAt().Local().Format(time.DateTime))
}

// cmdSignout forgets the bound handle
func cmdSignout(args []string) {
	fs := flag.NewFlagSet("signout", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	a := openApp(*configPath, true)
	defer a.Close()

	if err := a.SignOut(); err != nil {
		a.Close()
		fatal("%v", err)
	}
	fmt.Println("Signed out.")
}

func printBoard(out io.Writer, board domain.Board) {
	if board.Notice != "" {
		fmt.Fprintln(out, board.Notice)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tSCORE\tWHEN")
	fmt.Fprintln(w, "----\t------\t-----\t----")
	for _, e := range board.Entries {
		name := e.Handle
		if e.Me {
			name += " (you)"
		}
		when := "-"
		if !e.RecordedAt.IsZero() {
			when = e.RecordedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.Rank, name, e.Score, when)
	}
	w.Flush()

	if len(board.Entries) == 0 {
		fmt.Fprintln(out, "No scores yet.")
	}
	fmt.Fprintf(out, "\nsource: %s\n", board.Source)
}

func getJSON(baseURL, path string, target any) error {
	url := strings.TrimRight(baseURL, "/") + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
