// ega-fuse mounts encrypted EGA archives as a read-only directory of
// decrypted files.
//
// Usage:
//
//	ega-fuse [mount] -m /mnt/ega [-d DATASET | -u EMAIL] [-p PASSWORD]
//	ega-fuse list [-d DATASET | -u EMAIL]
//	ega-fuse datasets [-u EMAIL]
//	ega-fuse encrypt -p PASSWORD [-k BITS] <plaintext> <archive-path>
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog/dir"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog/postgres"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/config"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
)

const (
	cmdMount    = "mount"
	cmdList     = "list"
	cmdDatasets = "datasets"
	cmdEncrypt  = "encrypt"
)

var commands = map[string]func(context.Context, *config.Config) error{
	cmdMount:    runMount,
	cmdList:     runList,
	cmdDatasets: runDatasets,
	cmdEncrypt:  runEncrypt,
}

func main() {
	name, args := splitCommand(os.Args[1:])
	if name == "help" {
		printUsage()
		return
	}

	cfg, err := config.Load(name, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(2)
	}
	if name == cmdMount && cfg.Test {
		name = cmdList
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if cfg.AskPassword {
		if cfg.Password, err = readPassword(); err != nil {
			logging.Fatal("password prompt failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := startMetrics(cfg.MetricsAddr)
		defer srv.Close()
	}

	if err := commands[name](ctx, cfg); err != nil {
		logging.Error(name+" failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

// splitCommand separates a leading sub-command from its flags. Without one
// the arguments belong to mount.
func splitCommand(argv []string) (string, []string) {
	if len(argv) == 0 {
		return cmdMount, nil
	}
	switch argv[0] {
	case "help", "-h", "--help":
		return "help", nil
	}
	if _, ok := commands[argv[0]]; ok {
		return argv[0], argv[1:]
	}
	return cmdMount, argv
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: ega-fuse [mount|list|datasets|encrypt] [flags]\n\nFlags:\n%s", config.Usage(cmdMount))
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Archive password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

// openCatalog connects the configured file listing source.
func openCatalog(ctx context.Context, cfg *config.Config) (catalog.Source, error) {
	keys := catalog.Keys{Password: cfg.Password, CipherBits: cfg.CipherBits}
	switch cfg.Source {
	case config.SourceDir:
		return dir.New(cfg.SourceDir, keys)
	default:
		c, err := postgres.New(ctx, cfg.File.Database, cfg.File.Queries, keys)
		if err != nil {
			return nil, err
		}
		c.UpdateConnectionMetrics()
		return c, nil
	}
}
