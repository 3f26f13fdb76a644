// Command codegraph is the transactional CLI surface of the code
// intelligence core: transaction lifecycle bookkeeping, version/branch
// management over the content-addressed store, and a "serve" subcommand
// exposing the resident ops HTTP surface (health, metrics, integrity
// checks) over the same storage directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/codegraph-io/codegraph/internal/workerpool"
	_ "go.uber.org/automaxprocs"
)

// exit codes per the CLI contract: 0 success, 1 user error, 2 conflict
// (prints a conflict list), 3 internal, 130 cancelled.
const (
	exitOK       = 0
	exitUserErr  = 1
	exitConflict = 2
	exitInternal = 3
	exitCancel   = 130
)

// Config holds all environment-based configuration.
type Config struct {
	Storage    string
	WALSync    string
	EmbedDim   int
	CacheBytes int64
	MaxWorkers int
	OutputFmt  string
}

func loadConfig() Config {
	return Config{
		Storage:    envOr("CODEGRAPH_STORAGE", "./db"),
		WALSync:    envOr("CODEGRAPH_WAL_SYNC", "interval=100"),
		EmbedDim:   envOrInt("CODEGRAPH_EMBED_DIM", 768),
		CacheBytes: envOrInt64("CODEGRAPH_CACHE_BYTES", 64<<20),
		MaxWorkers: envOrInt("CODEGRAPH_MAX_WORKERS", 0),
		OutputFmt:  envOr("CODEGRAPH_OUTPUT", "pretty"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	os.Exit(run(ctx, os.Args[1:], cfg, logger, os.Stdout, os.Stderr))
}

// run dispatches to the tx/version/branch command groups and returns the
// process exit code; it never calls os.Exit itself so tests can drive it.
func run(ctx context.Context, args []string, cfg Config, logger *slog.Logger, stdout, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph <tx|version|branch|serve> <subcommand> [flags]")
		return exitUserErr
	}

	if err := ctx.Err(); err != nil {
		return exitCancel
	}

	group, rest := args[0], args[1:]

	var format string
	format, rest = extractFormat(rest, cfg.OutputFmt)

	st, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "storage: %s\n", describeErr(err))
		return classifyExit(err)
	}
	defer st.Close()

	out := newPrinter(format, stdout)

	// Every command group runs as one task submitted to the bounded
	// worker pool rather than inline: a slow WAL fsync or CAS write
	// during "branch merge" still goes through the same admission path
	// a long-running daemon's requests would, instead of the CLI being
	// a special case that bypasses backpressure accounting entirely.
	future, err := workerpool.Submit(ctx, st.pool, func(taskCtx context.Context) (int, error) {
		switch group {
		case "tx":
			return runTx(taskCtx, st, rest, out, stderr), nil
		case "version":
			return runVersion(taskCtx, st, rest, out, stderr), nil
		case "branch":
			return runBranch(taskCtx, st, rest, out, stderr), nil
		case "serve":
			return runServe(taskCtx, st, rest, stderr), nil
		default:
			fmt.Fprintf(stderr, "unknown command group %q\n", group)
			return exitUserErr, nil
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "scheduling: %s\n", describeErr(err))
		return classifyExit(err)
	}

	code, err := future.Wait(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCancel
	}
	return code
}

// extractFormat pulls every --format=<json|pretty|table> flag out of args,
// wherever it appears (the last one wins), and returns the remaining args
// in their original order.
func extractFormat(args []string, fallback string) (string, []string) {
	format := fallback
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "--format=") {
			format = strings.TrimPrefix(a, "--format=")
			continue
		}
		out = append(out, a)
	}
	return format, out
}
