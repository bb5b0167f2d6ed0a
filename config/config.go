// Package config handles all daemon configuration.
// CLI flags take precedence; environment variables are used as fallback.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete daemon configuration, corresponding to the
// fsal.* and bundles.* keys plus the operational settings needed to run
// the daemon (socket path, catalog file, pidfile).
type Config struct {
	// BasePaths is the ordered, non-empty list of absolute directories the
	// catalog indexes. Index 0 anchors path confinement and the root
	// directory stat; the last index is the default transfer destination.
	BasePaths []string
	// Chroot is an optional relative suffix appended to every base path.
	Chroot string
	// Blacklist holds regex patterns; a relative path is excluded from the
	// catalog if any pattern matches from its start.
	Blacklist []string
	// BundlesDir is the relative path under each base path that is scanned
	// for auto-extractable archives.
	BundlesDir string
	// BundlesExts is the set of archive extensions (no leading dot)
	// recognized as bundles.
	BundlesExts []string
	// SocketPath is the filesystem path of the local stream socket the
	// protocol server binds to.
	SocketPath string
	// DBPath is the path to the catalog's SQLite file.
	DBPath string
	// PIDFile, when non-empty, receives the daemon's PID at startup and is
	// removed at clean exit.
	PIDFile string
	// YieldInterval is the cooperative pause the directory walker takes
	// between directories so it never starves concurrent request handling.
	YieldInterval time.Duration
}

// stringList is a custom flag.Value that can be set multiple times.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Load parses flags and environment variables, returning a validated Config.
func Load() (*Config, error) {
	var basePaths stringList
	var blacklist stringList
	var bundlesExts stringList

	flag.Var(&basePaths, "basepath", "Base directory to index (repeatable; env: FSAL_BASEPATHS, colon-separated)")
	flag.Var(&blacklist, "blacklist", "Blacklist regex pattern (repeatable; env: FSAL_BLACKLIST, colon-separated)")
	flag.Var(&bundlesExts, "bundles-ext", "Bundle archive extension, no dot (repeatable; env: FSAL_BUNDLES_EXTS, colon-separated)")
	chrootFlag := flag.String("chroot", "", "Relative suffix appended to every base path (env: FSAL_CHROOT)")
	bundlesDirFlag := flag.String("bundles-dir", "", "Relative bundle directory under each base path (env: FSAL_BUNDLES_DIR, default: bundles)")
	socketFlag := flag.String("socket", "", "Path of the local stream socket (env: FSAL_SOCKET, default: ./fsal.sock)")
	dbFlag := flag.String("db", "", "Path to the catalog SQLite file (env: FSAL_DB, default: ./fsal.db)")
	pidFileFlag := flag.String("pid-file", "", "Path for the daemon pidfile (env: FSAL_PIDFILE)")
	yieldFlag := flag.String("yield-interval", "", "Cooperative walk yield interval (env: FSAL_YIELD_INTERVAL, default: 500ms)")
	flag.Parse()

	if len(basePaths) == 0 {
		if v := os.Getenv("FSAL_BASEPATHS"); v != "" {
			for _, p := range strings.Split(v, ":") {
				p = strings.TrimSpace(p)
				if p != "" {
					basePaths = append(basePaths, p)
				}
			}
		}
	}
	for _, arg := range flag.Args() {
		basePaths = append(basePaths, arg)
	}
	if len(basePaths) == 0 {
		return nil, fmt.Errorf("at least one base path must be specified via -basepath flag, FSAL_BASEPATHS env var, or positional argument")
	}

	absBasePaths := make([]string, 0, len(basePaths))
	for _, p := range basePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("base path %q: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("base path %q: %w", p, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("base path %q is not a directory", p)
		}
		absBasePaths = append(absBasePaths, abs)
	}

	chroot := *chrootFlag
	if chroot == "" {
		chroot = os.Getenv("FSAL_CHROOT")
	}

	if len(blacklist) == 0 {
		if v := os.Getenv("FSAL_BLACKLIST"); v != "" {
			blacklist = strings.Split(v, ":")
		}
	}

	bundlesDir := *bundlesDirFlag
	if bundlesDir == "" {
		if v := os.Getenv("FSAL_BUNDLES_DIR"); v != "" {
			bundlesDir = v
		} else {
			bundlesDir = "bundles"
		}
	}

	if len(bundlesExts) == 0 {
		if v := os.Getenv("FSAL_BUNDLES_EXTS"); v != "" {
			bundlesExts = strings.Split(v, ":")
		} else {
			bundlesExts = stringList{"zip"}
		}
	}

	socketPath := *socketFlag
	if socketPath == "" {
		if v := os.Getenv("FSAL_SOCKET"); v != "" {
			socketPath = v
		} else {
			socketPath = "./fsal.sock"
		}
	}

	dbPath := *dbFlag
	if dbPath == "" {
		if v := os.Getenv("FSAL_DB"); v != "" {
			dbPath = v
		} else {
			dbPath = "./fsal.db"
		}
	}

	pidFile := *pidFileFlag
	if pidFile == "" {
		pidFile = os.Getenv("FSAL_PIDFILE")
	}

	yieldRaw := *yieldFlag
	if yieldRaw == "" {
		yieldRaw = os.Getenv("FSAL_YIELD_INTERVAL")
	}
	yieldInterval := 500 * time.Millisecond
	if yieldRaw != "" {
		d, err := time.ParseDuration(yieldRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid -yield-interval %q: %w", yieldRaw, err)
		}
		yieldInterval = d
	}

	return &Config{
		BasePaths:     absBasePaths,
		Chroot:        chroot,
		Blacklist:     []string(blacklist),
		BundlesDir:    bundlesDir,
		BundlesExts:   []string(bundlesExts),
		SocketPath:    socketPath,
		DBPath:        dbPath,
		PIDFile:       pidFile,
		YieldInterval: yieldInterval,
	}, nil
}

// ResolvedBasePaths returns BasePaths with Chroot appended to each entry.
func ResolvedBasePaths(cfg *Config) []string {
	if cfg.Chroot == "" {
		return cfg.BasePaths
	}
	out := make([]string, len(cfg.BasePaths))
	for i, p := range cfg.BasePaths {
		out[i] = filepath.Join(p, cfg.Chroot)
	}
	return out
}

// parseBoolString converts a human-readable boolean string to a bool,
// reporting in its second result whether s was a recognized spelling.
func parseBoolString(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "on":
		return true, true
	case "0", "f", "false", "no", "off":
		return false, true
	}
	return false, false
}

// ParseBool is exported for use by the protocol layer when decoding
// boolean request parameters (true/false per spec.md's wire format).
func ParseBool(s string) (bool, error) {
	b, ok := parseBoolString(s)
	if !ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n != 0, nil
		}
		return false, fmt.Errorf("invalid boolean value %q", s)
	}
	return b, nil
}
