// Package config loads the contentdb CLI configuration from JSON-with-comments
// files layered over defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/contentdb/pkg/contentdb"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".contentdb.json"

var (
	ErrInvalid         = errors.New("invalid config")
	ErrFileNotFound    = errors.New("config file not found")
	ErrFileRead        = errors.New("cannot read config file")
	ErrContentDirEmpty = errors.New("content_dir cannot be empty")
	ErrIndexDirEmpty   = errors.New("index_dir cannot be empty")
	ErrLogLevel        = errors.New("unknown log_level")
	ErrPadWidth        = errors.New("numeric_pad_width must be positive")
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	ContentDir      string `json:"content_dir"`
	IndexDir        string `json:"index_dir"`
	GeneratedDir    string `json:"generated_dir,omitempty"`
	LogLevel        string `json:"log_level,omitempty"`
	NumericPadWidth int    `json:"numeric_pad_width,omitempty"`
	ContinueOnError *bool  `json:"continue_on_error,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd  string `json:"-"`
	ContentDirAbs string `json:"-"`
	IndexDirAbs   string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ContentDir:      ".",
		IndexDir:        ".contentdb/index",
		GeneratedDir:    contentdb.DefaultGeneratedDir,
		LogLevel:        zerolog.WarnLevel.String(),
		NumericPadWidth: 4,
	}
}

// Level returns the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.WarnLevel
	}

	return lvl
}

// KeepGoing reports whether bulk indexing continues past document failures.
func (c Config) KeepGoing() bool {
	return c.ContinueOnError != nil && *c.ContinueOnError
}

// globalPath returns $XDG_CONFIG_HOME/contentdb/config.json, falling back to
// ~/.config/contentdb/config.json. Empty when neither can be determined.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "contentdb", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "contentdb", "config.json")
	}

	return ""
}

// Input holds the inputs for [Load].
type Input struct {
	WorkDirOverride    string // -C/--cwd; os.Getwd() when empty
	ConfigPath         string // -c/--config
	ContentDirOverride string // --content-dir
	IndexDirOverride   string // --index-dir
	LogLevelOverride   string // --log-level
	Env                map[string]string
}

// Load loads configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/contentdb/config.json)
//  3. Project config file (.contentdb.json, if it exists)
//  4. Explicit config file via ConfigPath (replaces 3)
//  5. CLI overrides
//
// Directory paths in the returned Config are resolved to absolute paths.
func Load(in Input) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	global, globalFile, err := loadOptional(globalPath(in.Env))
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, global)

	project, projectFile, err := loadProject(workDir, in.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, project)

	cfg = merge(cfg, Config{
		ContentDir: in.ContentDirOverride,
		IndexDir:   in.IndexDirOverride,
		LogLevel:   in.LogLevelOverride,
	})

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.ContentDirAbs = absolute(workDir, cfg.ContentDir)
	cfg.IndexDirAbs = absolute(workDir, cfg.IndexDir)

	return cfg, nil
}

func absolute(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(workDir, p)
}

func loadOptional(path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads the project config file or an explicit one. An explicit
// file must exist.
func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		return loadOptional(filepath.Join(workDir, FileName))
	}

	file := configPath
	if !filepath.IsAbs(file) {
		file = filepath.Join(workDir, file)
	}

	_, statErr := os.Stat(file)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
	}

	cfg, _, err := loadFile(file, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, file, nil
}

// loadFile reads and parses one config file. Missing optional files report
// loaded=false without error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes one JSONC config document. Directory keys that are present
// but empty are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	for key, sentinel := range map[string]error{"content_dir": ErrContentDirEmpty, "index_dir": ErrIndexDirEmpty} {
		if s, ok := raw[key].(string); ok && s == "" {
			return Config{}, sentinel
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.ContentDir != "" {
		base.ContentDir = overlay.ContentDir
	}

	if overlay.IndexDir != "" {
		base.IndexDir = overlay.IndexDir
	}

	if overlay.GeneratedDir != "" {
		base.GeneratedDir = overlay.GeneratedDir
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.NumericPadWidth != 0 {
		base.NumericPadWidth = overlay.NumericPadWidth
	}

	if overlay.ContinueOnError != nil {
		base.ContinueOnError = overlay.ContinueOnError
	}

	return base
}

func validate(cfg Config) error {
	if cfg.ContentDir == "" {
		return ErrContentDirEmpty
	}

	if cfg.IndexDir == "" {
		return ErrIndexDirEmpty
	}

	if cfg.NumericPadWidth < 0 {
		return fmt.Errorf("%w: %d", ErrPadWidth, cfg.NumericPadWidth)
	}

	_, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevel, cfg.LogLevel)
	}

	return nil
}
