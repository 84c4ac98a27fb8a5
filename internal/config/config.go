package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EngineConfig is one engine's launch recipe: binary path plus any fixed
// args to prepend before the translator's own BuildArgs output.
type EngineConfig struct {
	Cmd  string
	Args []string

	// Interactive routes this engine through the pty_fallback.go path
	// instead of plain pipes, for CLIs with no one-shot "--json exec" mode.
	Interactive bool
}

// defaultEngineIDs is the fixed set of engines the bridge knows how to
// translate (internal/engine/{codex,claude,opencode,pi}); config only
// supplies each one's binary path and fixed args.
var defaultEngineIDs = []string{"codex", "claude", "opencode", "pi"}

type Config struct {
	TelegramToken string
	Allowlist     map[int64]struct{}
	LogUnknown    bool
	HideStatus    bool

	// Engines maps engine id ("codex", "claude", "opencode", "pi") to its
	// launch recipe. Load falls back to the engine id itself as Cmd when no
	// binary is configured, so every known engine gets an entry.
	Engines       map[string]EngineConfig
	DefaultEngine string

	WorkDir   string
	ProjectsFile string

	// Output batching for Telegram.
	FlushInterval time.Duration
	MaxChunkBytes int
	ShowResumeLine bool

	// Safety.
	LogDir      string
	LockPath    string
}

func Load() (Config, error) {
	var cfg Config

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if cfg.TelegramToken == "" {
		return cfg, errors.New("missing TELEGRAM_BOT_TOKEN")
	}

	allow := strings.TrimSpace(os.Getenv("TELEGRAM_ALLOWLIST"))
	if allow == "" {
		return cfg, errors.New("missing TELEGRAM_ALLOWLIST (comma-separated chat_id list)")
	}
	al, err := parseAllowlist(allow)
	if err != nil {
		return cfg, fmt.Errorf("TELEGRAM_ALLOWLIST: %w", err)
	}
	cfg.Allowlist = al
	cfg.LogUnknown = envBool("TELEGRAM_LOG_UNKNOWN", false)
	cfg.HideStatus = envBool("TELEGRAM_HIDE_STATUS", false)

	cfg.Engines = make(map[string]EngineConfig)
	for _, id := range defaultEngineIDs {
		prefix := strings.ToUpper(id)
		cmd := strings.TrimSpace(os.Getenv(prefix + "_CMD"))
		if cmd == "" {
			cmd = strings.TrimSpace(os.Getenv(prefix + "_BIN"))
		}
		args := splitArgs(os.Getenv(prefix + "_ARGS"))
		if cmd == "" && id == "codex" {
			// Back-compat: the teacher's single-engine env names.
			cmd = strings.TrimSpace(os.Getenv("ADAPTER_CMD"))
			if len(args) == 0 {
				args = splitArgs(os.Getenv("ADAPTER_ARGS"))
			}
		}
		if cmd == "" {
			cmd = id
		}
		interactive := envBool(prefix+"_INTERACTIVE", false)
		cfg.Engines[id] = EngineConfig{Cmd: cmd, Args: args, Interactive: interactive}
	}

	cfg.DefaultEngine = strings.TrimSpace(os.Getenv("DEFAULT_ENGINE"))
	if cfg.DefaultEngine == "" {
		cfg.DefaultEngine = "codex"
	}

	cfg.WorkDir = strings.TrimSpace(os.Getenv("WORKDIR"))
	if cfg.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkDir = wd
		}
	}

	cfg.ProjectsFile = strings.TrimSpace(os.Getenv("PROJECTS_FILE"))
	if cfg.ProjectsFile == "" {
		cfg.ProjectsFile = "projects.yaml"
	}

	cfg.FlushInterval = envDuration("FLUSH_INTERVAL", 1200*time.Millisecond)
	cfg.MaxChunkBytes = envInt("MAX_CHUNK_BYTES", 3500) // keep under Telegram limits after escaping
	cfg.ShowResumeLine = envBool("SHOW_RESUME_LINE", true)

	cfg.LogDir = strings.TrimSpace(os.Getenv("LOG_DIR"))
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}

	cfg.LockPath = strings.TrimSpace(os.Getenv("LOCK_PATH"))
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(cfg.LogDir, "mybot.lock")
	}

	return cfg, nil
}

func parseAllowlist(s string) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	parts := strings.Split(s, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q", p)
		}
		out[id] = struct{}{}
	}
	if len(out) == 0 {
		return nil, errors.New("empty allowlist")
	}
	return out, nil
}

func envDuration(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// Simple split: space-separated; if you need quoting, wrap a tiny shell script as CODEX_CMD.
	return strings.Fields(s)
}
