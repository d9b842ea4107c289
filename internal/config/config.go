// Package config resolves the daemon and client configuration: the state
// directory layout, project scoping, and every operational timeout.
// Precedence follows a CLI flag > environment variable > config file >
// default chain. None of these values change semantics, only bounds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every daemon/client timeout and location. Durations use
// time.Duration so tests can inject a fake clock and still express these
// naturally; see internal/daemon/clock.go for the injectable clock itself.
type Config struct {
	StateDir string `yaml:"state_dir"`
	Project  string `yaml:"project"`

	TCPPort     int    `yaml:"tcp_port"`
	BearerToken string `yaml:"bearer_token"`

	IPCTimeout        time.Duration `yaml:"ipc_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	GracefulExit      time.Duration `yaml:"graceful_exit_timeout"`
	ConnectPoll       time.Duration `yaml:"connect_poll_interval"`
	RunWait           time.Duration `yaml:"run_wait"`
	WaitPoll          time.Duration `yaml:"wait_poll"`
	IdleGrace         time.Duration `yaml:"idle_grace"`
	PromptPoll        time.Duration `yaml:"prompt_poll"`
	SessionPoll       time.Duration `yaml:"session_poll"`
	WatcherPoll       time.Duration `yaml:"watcher_poll"`
	TimerResolution   time.Duration `yaml:"timer_check_resolution"`
}

// Default returns the documented defaults. Every bound here is
// conservative enough for interactive use; operators needing tighter
// bounds override via env var or config file.
func Default() Config {
	return Config{
		StateDir:        defaultStateDir(),
		Project:         "",
		TCPPort:         0, // 0 disables the optional TCP listener
		BearerToken:     "",
		IPCTimeout:      10 * time.Second,
		ConnectTimeout:  5 * time.Second,
		GracefulExit:    15 * time.Second,
		ConnectPoll:     50 * time.Millisecond,
		RunWait:         0, // 0 = don't block on job completion
		WaitPoll:        250 * time.Millisecond,
		IdleGrace:       2 * time.Minute,
		PromptPoll:      500 * time.Millisecond,
		SessionPoll:     1 * time.Second,
		WatcherPoll:     2 * time.Second,
		TimerResolution: 200 * time.Millisecond,
	}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "crewd")
	}
	return filepath.Join(os.TempDir(), "crewd")
}

// envDurations maps each duration field's env var name to a setter. None
// of these change semantics, only timing bounds.
func (c *Config) envDurations() map[string]*time.Duration {
	return map[string]*time.Duration{
		"CREWD_IPC_TIMEOUT":       &c.IPCTimeout,
		"CREWD_CONNECT_TIMEOUT":   &c.ConnectTimeout,
		"CREWD_GRACEFUL_EXIT":     &c.GracefulExit,
		"CREWD_CONNECT_POLL":      &c.ConnectPoll,
		"CREWD_RUN_WAIT":          &c.RunWait,
		"CREWD_WAIT_POLL":         &c.WaitPoll,
		"CREWD_IDLE_GRACE":        &c.IdleGrace,
		"CREWD_PROMPT_POLL":       &c.PromptPoll,
		"CREWD_SESSION_POLL":      &c.SessionPoll,
		"CREWD_WATCHER_POLL":      &c.WatcherPoll,
		"CREWD_TIMER_RESOLUTION":  &c.TimerResolution,
	}
}

// Load resolves Config from, in increasing precedence: defaults, the
// config file at stateDir/daemon.yaml (if present), then environment
// variables. CLI flags are applied by the caller afterward (internal/cli
// wires --state-dir/--project directly into the returned Config).
func Load() (Config, error) {
	cfg := Default()

	if envDir := os.Getenv("CREWD_STATE_DIR"); envDir != "" {
		cfg.StateDir = envDir
	}

	if path := filepath.Join(cfg.StateDir, "daemon.yaml"); fileExists(path) {
		if err := mergeFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if v := os.Getenv("CREWD_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("CREWD_TCP_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.TCPPort)
	}
	if v := os.Getenv("CREWD_BEARER_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	for env, target := range cfg.envDurations() {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveProject derives the project scope for a request: explicit flag >
// $CREWD_PROJECT > config > directory basename.
func ResolveProject(flagValue string, cfg Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.Project != "" {
		return cfg.Project
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Base(wd)
	}
	return "default"
}

// Layout describes the fixed set of paths within the state directory.
type Layout struct {
	Root       string
	Socket     string
	LockFile   string
	VersionFile string
	DaemonLog  string
	Snapshot   string
	WAL        string
	JobsDir    string
	AgentsDir  string
	Workspaces string
}

// NewLayout computes every path under root without creating directories;
// call EnsureDirs separately so callers can decide when side effects run.
func NewLayout(root string) Layout {
	return Layout{
		Root:        root,
		Socket:      filepath.Join(root, "control.sock"),
		LockFile:    filepath.Join(root, "daemon.lock"),
		VersionFile: filepath.Join(root, "version"),
		DaemonLog:   filepath.Join(root, "daemon.log"),
		Snapshot:    filepath.Join(root, "snapshot.zst"),
		WAL:         filepath.Join(root, "wal.log"),
		JobsDir:     filepath.Join(root, "jobs"),
		AgentsDir:   filepath.Join(root, "agents"),
		Workspaces:  filepath.Join(root, "workspaces"),
	}
}

// EnsureDirs creates every directory the layout names (files are created
// lazily by their owning subsystem).
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Root, l.JobsDir, l.AgentsDir, l.Workspaces} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

var (
	overrideMu sync.RWMutex
	stateDirOverride string
)

// SetStateDirOverride lets the CLI's --state-dir flag win over everything
// else, via a package-level override guarded by a mutex.
func SetStateDirOverride(path string) {
	overrideMu.Lock()
	defer overrideMu.Unlock()
	stateDirOverride = path
}

// StateDirOverride returns the CLI override, if any was set.
func StateDirOverride() string {
	overrideMu.RLock()
	defer overrideMu.RUnlock()
	return stateDirOverride
}
