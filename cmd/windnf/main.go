// Command windnf is a client-side RPM repository manager: it ingests
// repomd-published metadata, stores a normalized package index
// locally, resolves capability-based dependencies, and fetches
// RPM/SRPM artifacts from remote mirrors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windnf/windnf/internal/config"
	"github.com/windnf/windnf/internal/fetch"
	"github.com/windnf/windnf/internal/ops"
	"github.com/windnf/windnf/internal/werr"
	"github.com/windnf/windnf/internal/wlog"
)

// Exit codes, unchanged from the specification.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

type subcommand func(ctx context.Context, o *ops.Operations, cfg config.Config, args []string) error

var subcommands = map[string]subcommand{
	"repo-add":  cmdRepoAdd,
	"repo-link": cmdRepoLink,
	"repo-list": cmdRepoList,
	"repo-sync": cmdRepoSync,
	"repo-del":  cmdRepoDel,
	"search":    cmdSearch,
	"info":      cmdInfo,
	"resolve":   cmdResolve,
	"download":  cmdDownload,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	setupLogging()

	if len(args) == 0 {
		usage()
		return exitUsage
	}
	name := args[0]
	cmd, ok := subcommands[name]
	if !ok {
		usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", name)
		return exitUsage
	}

	metricsAddr := extractMetricsAddr(&args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(ctx, metricsAddr)
	}

	cfgPath, err := defaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	o, err := ops.New(ctx, ops.Options{
		DBPath: cfg.DBPath,
		Fetcher: fetch.Options{
			ConnectTimeout:   secondsToDuration(cfg.TimeoutConnect),
			ReadTimeout:      secondsToDuration(cfg.TimeoutRead),
			MaxRetries:       cfg.Retries,
			VerifyTLS:        cfg.VerifySSL,
			CABundle:         cfg.CABundle,
			ProxyURL:         cfg.ProxyURL,
			UseNegotiateAuth: cfg.UseSSPI,
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer o.Close()

	err = cmd(ctx, o, cfg, args[1:])
	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil || werr.CodeOf(err) == werr.Cancelled:
		fmt.Fprintln(os.Stderr, "interrupted")
		return exitInterrupt
	case werr.CodeOf(err) == werr.InvalidArgument:
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	default:
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: windnf <subcommand> [args]

Subcommands:
  repo-add   <name> <base_url> [--repomd PATH] [--type binary|source] [--source-repo NAME] [--sync]
  repo-link  <binary> <source>
  repo-list
  repo-sync  [NAMES...] [--all]
  repo-del   [NAMES...] [--all] [--force]
  search     PATTERN... [--repo NAME...] [--show-duplicates]
  info       PATTERN [--repo NAME...]
  resolve    PATTERN... [--repo NAME...] [--weak] [--recursive] [--arch ARCH]
  download   PATTERN... [--repo NAME...] [--downloaddir PATH] [--destdir PATH]
                        [--resolve] [--recurse] [--source] [--urls] [--arch ARCH]
`)
}

func setupLogging() {
	level := slog.LevelInfo
	addSource := false
	if isTruthyEnv(os.Getenv("WINDNF_DEBUG")) {
		level = slog.LevelDebug
		addSource = true
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: addSource})
	slog.SetDefault(slog.New(wlog.WrapHandler(h)))
}

func isTruthyEnv(v string) bool {
	switch v {
	case "1", "true", "TRUE", "yes", "on":
		return true
	default:
		return false
	}
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", werr.Wrap(werr.InvalidArgument, "determine config directory", err)
	}
	return filepath.Join(dir, "windnf", "windnf.conf"), nil
}

// extractMetricsAddr pulls a --metrics-addr flag out of args wherever it
// appears, since it is a cross-cutting concern handled before subcommand
// flag parsing.
func extractMetricsAddr(args *[]string) string {
	const flagName = "--metrics-addr"
	a := *args
	for i, v := range a {
		if v == flagName && i+1 < len(a) {
			addr := a[i+1]
			*args = append(a[:i:i], a[i+2:]...)
			return addr
		}
	}
	return ""
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.ErrorContext(ctx, "metrics server stopped", "error", err)
	}
}
