package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app holds the wired components shared by every command
type app struct {
	cfg     *Config
	reddit  *RedditClient
	search  *SearchPipeline
	planner *Planner
	db      *Database
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{cfg: cfg}

	a.reddit = NewRedditClient(cfg.Reddit, cfg.Timing.Units(15))
	enricher := NewEnricher(a.reddit, cfg.Timing.Units(10), cfg.Timing.Units(2))

	var history PostHistory
	if cfg.Database.Path != "" {
		db, err := OpenDatabase(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db)
		history = db
	}
	a.search = NewSearchPipeline(a.reddit, enricher, history)

	store, err := a.ledgerStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	completion := NewCompletionClient(cfg.Mistral, cfg.Timing.Unit)
	if !completion.Configured() {
		slog.Warn("MISTRAL_API_KEY is not set, plan generation is disabled")
	}
	a.planner = NewPlanner(completion, NewTokenBudget(store, cfg.Budget.DailyTokenLimit), completion.Configured())

	return a, nil
}

func (a *app) ledgerStore(ctx context.Context) (LedgerStore, error) {
	switch a.cfg.Ledger.Backend {
	case "sqlite":
		if a.db == nil {
			return nil, errors.New("ledger.backend sqlite requires database.path")
		}
		slog.Debug("Using SQLite usage ledger", "path", a.cfg.Database.Path)
		return a.db, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		store := NewRedisLedgerStore(client, a.cfg.Redis.Key)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, store)
		slog.Debug("Using Redis usage ledger", "addr", a.cfg.Redis.Addr, "key", a.cfg.Redis.Key)
		return store, nil
	default:
		slog.Debug("Using file usage ledger", "path", a.cfg.Ledger.Path)
		return NewFileLedgerStore(a.cfg.Ledger.Path), nil
	}
}

func (a *app) historyReader() HistoryReader {
	if a.db == nil {
		return nil
	}
	return a.db
}

// Close releases the database and redis connections
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

func setupLogging(w io.Writer, cfg LogConfig, debug bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "reddit-plan",
		Short:         "Find pain points on Reddit and turn them into execution plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: config.{yaml,json,toml} in ., ./config or next to the binary)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// withApp loads config, sets up logging and runs fn with a wired app
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
		setupLogging(cmd.ErrOrStderr(), LogConfig{}, debug)
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		setupLogging(cmd.ErrOrStderr(), cfg.Log, debug)

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv := NewServer(a.search, a.reddit, a.planner, a.historyReader())

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start(fmt.Sprintf(":%d", a.cfg.Server.Port)) }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				slog.Info("Shutting down HTTP server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	var atom bool
	search := &cobra.Command{
		Use:   "search <subreddit> <keyword>",
		Short: "Show the top posts of the year for a keyword in a subreddit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.search.Search(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if atom {
					feed, err := GenerateAtomFeed(result, time.Now())
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), feed)
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	search.Flags().BoolVar(&atom, "atom", false, "print the results as an Atom feed")

	post := &cobra.Command{
		Use:   "post <permalink>",
		Short: "Show a post's full text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				detail, err := a.reddit.FetchPost(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), detail)
			})
		},
	}

	plan := &cobra.Command{
		Use:   "plan <permalink>",
		Short: "Generate an execution plan for a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				detail, err := a.reddit.FetchPost(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := a.planner.Generate(ctx, PlanRequest{
					Title:     detail.Title,
					Content:   detail.Body,
					Permalink: detail.Permalink,
					Community: detail.Community,
				})
				if err != nil {
					return fmt.Errorf("failed to generate execution plan: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Markdown)
				return err
			})
		},
	}

	usage := &cobra.Command{
		Use:   "usage",
		Short: "Show today's token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ledger := a.planner.Usage(ctx)
				return writeJSON(cmd.OutOrStdout(), usageResponse{
					UsageLedger: ledger,
					Limit:       a.planner.Limit(),
					Remaining:   max(0, a.planner.Limit()-ledger.Tokens),
				})
			})
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List recently seen posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be a positive integer, got %d", limit)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.db == nil {
					return errors.New("search history is disabled (database.path is empty)")
				}
				entries, err := a.db.RecentPosts(ctx, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "number of posts to show")

	root.AddCommand(serve, search, post, plan, usage, history)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
