package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo describes the binary and the schema it writes.
type BuildInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildTime     string `json:"buildTime"`
	GoVersion     string `json:"goVersion"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	SchemaVersion int    `json:"schemaVersion"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:       Version,
		Commit:        Commit,
		BuildTime:     BuildTime,
		GoVersion:     GoVersion,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		SchemaVersion: database.LatestVersion,
	}
}

// LogStartup logs the build and runtime environment of a server start.
func LogStartup() {
	info := GetBuildInfo()
	logging.Info("vdotapes %s (commit %s, built %s)", info.Version, info.Commit, info.BuildTime)
	logging.Info("  %s %s/%s, %d CPUs, GOMAXPROCS %d, schema v%d",
		info.GoVersion, info.OS, info.Arch, runtime.NumCPU(), runtime.GOMAXPROCS(0), info.SchemaVersion)
}

// PrepareDataDir creates the directory holding the store and checks that
// it is writable.
func PrepareDataDir(dbPath string) error {
	dir, err := filepath.Abs(filepath.Dir(dbPath))
	if err != nil {
		return fmt.Errorf("failed to resolve database directory path: %w", err)
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		logging.Debug("Created database directory %s", dir)
	case err != nil:
		return fmt.Errorf("failed to stat database directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("database directory %s exists but is not a directory", dir)
	}

	probe := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("database directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		logging.Warn("failed to remove write test file %s: %v", probe, err)
	}
	return nil
}

// LogDatabaseInit logs the schema phase the store opened in.
func LogDatabaseInit(duration time.Duration, schemaVersion int, compatWindow bool) {
	logging.Info("Store open in %v at schema v%d", duration, schemaVersion)
	if compatWindow {
		logging.Info("  Compatibility window open: legacy backups present, rollback possible")
	}
}

// LogHTTPRoutes logs every method and path template at debug level.
func LogHTTPRoutes(router *mux.Router) {
	if !logging.IsDebugEnabled() {
		return
	}
	n := 0
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			// Subrouter prefixes carry no methods
			return nil
		}
		for _, m := range methods {
			logging.Debug("  route %-6s %s", m, path)
			n++
		}
		return nil
	})
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Debug("  %d routes registered", n)
}

// LogServerStarted logs where the API listens.
func LogServerStarted(port string, metricsEnabled bool, startup time.Duration) {
	logging.Info("Serving catalog API on :%s (started in %v)", port, startup)
	if metricsEnabled {
		logging.Info("  Metrics on :%s/metrics", port)
	}
}
