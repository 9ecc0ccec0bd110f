package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"vdotapes/internal/catalog"
	"vdotapes/internal/compat"
	"vdotapes/internal/database"
	"vdotapes/internal/logging"
	"vdotapes/internal/querycache"
	"vdotapes/internal/startup"
)

// loadConfig reads the layered configuration and applies its logging
// settings.
func loadConfig() (*startup.Config, error) {
	cfg, err := startup.LoadConfig(startup.LoadOptions{
		ConfigFile: globals.configFile,
		EnvFile:    globals.envFile,
	})
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if globals.logLevel != "" {
		cfg.LogLevel = globals.logLevel
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	if err := logging.SetOutputFile(cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// store bundles an initialized database with the catalog built on it.
type store struct {
	db      *database.Database
	catalog *catalog.Catalog
	adapter *compat.Adapter
}

// openStore initializes the store named by cfg. Callers must Close it.
func openStore(ctx context.Context, cfg *startup.Config) (*store, error) {
	db, err := database.Open(ctx, cfg.DatabasePath, cfg.DatabaseOptions())
	if err != nil {
		return nil, err
	}
	adapter := compat.New(db, compat.Options{Enabled: cfg.CompatShims})
	cache := querycache.New(cfg.CacheCapacity, cfg.CacheTTL)
	return &store{
		db:      db,
		catalog: catalog.New(db, cache, adapter),
		adapter: adapter,
	}, nil
}

func (s *store) Close() {
	if err := s.catalog.Close(); err != nil {
		logging.Error("failed to close database: %v", err)
	}
	if err := logging.CloseOutputFile(); err != nil {
		logging.Error("failed to close log file: %v", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on the terminal. Without a terminal on
// stdin nothing can be confirmed and it returns false.
func confirm(in io.Reader, out io.Writer, question string) bool {
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return false
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	return isYes(answer)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// withStore loads the configuration, opens the store and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withStore(fn func(ctx context.Context, st *store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, st)
}
