// Command ragctl manages workspaces and documents and chats with them from
// the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/ragdesk/internal/auth"
	"github.com/nikhilbhutani/ragdesk/internal/cache"
	"github.com/nikhilbhutani/ragdesk/internal/client"
	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/hooks"
	"github.com/nikhilbhutani/ragdesk/internal/query"
	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

const usage = `usage: ragctl [-config file] [-v] <command> [args]

commands:
  workspaces [list | create NAME | rename ID NAME | delete ID]
  docs [-status S] [-watch] WORKSPACE
  upload [-wait] WORKSPACE FILE...
  delete-doc WORKSPACE DOCUMENT
  search [-top-k N] [-min-score F] WORKSPACE QUERY...
  chat [-top-k N] [-provider P] [-model M] WORKSPACE
  ingest [-name N -text T] WORKSPACE [DOCUMENT...]
  sync WORKSPACE DIR
  token -secret S [-sub U] [-role R] [-ttl D]

WORKSPACE may be omitted (use "-") when the config sets workspace.
`

// app holds the client stack shared by the commands.
type app struct {
	cfg    *config.ClientConfig
	hooks  *hooks.Hooks
	store  *query.Store
	logger *slog.Logger
	redis  *redis.Client
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := flag.NewFlagSet("ragctl", flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flags.String("config", config.DefaultClientPath(), "path to the TOML config file")
	verbose := flags.Bool("v", false, "log requests to stderr")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cmd, args := flags.Arg(0), flags.Args()[1:]
	if cmd == "token" {
		return exit(cmdToken(args))
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return exit(err)
	}
	if err := cfg.Validate(); err != nil {
		return exit(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return exit(err)
	}
	defer a.close()

	commands := map[string]func(context.Context, []string) error{
		"workspaces": a.cmdWorkspaces,
		"docs":       a.cmdDocs,
		"upload":     a.cmdUpload,
		"delete-doc": a.cmdDeleteDoc,
		"search":     a.cmdSearch,
		"chat":       a.cmdChat,
		"ingest":     a.cmdIngest,
		"sync":       a.cmdSync,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	return exit(fn(ctx, args))
}

func newApp(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*app, error) {
	policy, err := client.ParseConflictPolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	var tokens *auth.JWTSource
	tcfg := transport.Config{
		BaseURL:   cfg.APIURL,
		Timeout:   cfg.Timeout.Duration,
		UserAgent: "ragctl",
		Logger:    logger,
	}
	if cfg.Token != "" {
		tokens = auth.NewJWTSource(cfg.Token, 30*time.Second)
		tcfg.Tokens = tokens
	}
	tr, err := transport.New(tcfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	opts := query.Options{
		StaleTime: cfg.StaleTime.Duration,
		CacheTime: cfg.CacheTime.Duration,
		Retry:     cfg.Retry,
		Logger:    logger,
	}
	if cfg.Retry == 0 {
		opts.Retry = -1
	}
	if cfg.CacheRedis != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.CacheRedis})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, cache will not persist", "error", err)
		} else {
			opts.Persister = cache.NewPersister(a.redis, "ragdesk:query:"+cacheNamespace(cfg)+":", cfg.CacheTime.Duration)
		}
	}
	a.store = query.NewStore(opts)

	hopts := hooks.Options{PollInterval: cfg.PollInterval.Duration, Logger: logger}
	if tokens != nil {
		hopts.Tokens = tokens
	}
	a.hooks = hooks.New(a.store, client.New(tr, client.WithConflictPolicy(policy)), hopts)
	return a, nil
}

func (a *app) close() {
	a.store.Close()
	if a.redis != nil {
		a.redis.Close()
	}
}

// workspace resolves "-" or an empty argument to the configured workspace.
func (a *app) workspace(arg string) (string, error) {
	if arg != "" && arg != "-" {
		return arg, nil
	}
	if a.cfg.Workspace == "" {
		return "", errors.New("no workspace given and none configured")
	}
	return a.cfg.Workspace, nil
}

// cacheNamespace keeps cached reads of different users and servers apart.
func cacheNamespace(cfg *config.ClientConfig) string {
	sub := "anonymous"
	if cfg.Token != "" {
		if c, err := auth.SubjectOf(cfg.Token); err == nil && c != "" {
			sub = c
		}
	}
	return cfg.APIURL + ":" + sub
}

func exit(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	var te *transport.Error
	if errors.As(err, &te) {
		for field, reason := range te.Fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, reason)
		}
	}
	return 1
}
