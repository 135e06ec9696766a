package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the on-disk layout of the repository and the archive tree.
type Paths struct {
	JobRoot      string `toml:"job_root"`
	ArchiveLog   string `toml:"archive_log"`
	RegisterDB   string `toml:"register_db"`
	CatalogDB    string `toml:"catalog_db"`
	LogDir       string `toml:"log_dir"`
	Repository   string `toml:"repository"`
	LegacyFiles  string `toml:"legacy_files"`
	LegacyPixels string `toml:"legacy_pixels"`
}

// Workflow contains the knobs of the job state machine.
type Workflow struct {
	// MaxRetries is how many failed sink attempts a file tolerates before
	// it is marked Error.
	MaxRetries int `toml:"max_retries"`
	// ExpiryDays is how long a New job may wait for review before the
	// administrator reminder flags it as overdue.
	ExpiryDays int `toml:"expiry_days"`
	// KeepToArchiveTag leaves the request tag on items after job creation.
	KeepToArchiveTag bool `toml:"keep_to_archive_tag"`
	// IgnoreMissing drops files missing from disk instead of marking them Error.
	IgnoreMissing bool `toml:"ignore_missing"`
	// MinFreeGiB is the free space the doctor command expects on the archive root.
	MinFreeGiB int `toml:"min_free_gib"`
}

// FileSink configures the synchronous copy-to-directory archiver.
type FileSink struct {
	ArchiveRoot string `toml:"archive_root"`
}

// Arkivum configures the asynchronous appliance archiver.
type Arkivum struct {
	BaseURL            string `toml:"base_url"`
	MountRoot          string `toml:"mount_root"`
	MountPath          string `toml:"mount_path"`
	TargetState        string `toml:"target_state"`
	IngestDelaySeconds int    `toml:"ingest_delay_seconds"`
	RequestTimeout     int    `toml:"request_timeout"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Sink selects and configures the archive backend.
type Sink struct {
	Kind    string   `toml:"kind"`
	File    FileSink `toml:"file"`
	Arkivum Arkivum  `toml:"arkivum"`
}

// Notifications contains configuration for owner and administrator messages.
type Notifications struct {
	Transport      string   `toml:"transport"`
	NtfyTopic      string   `toml:"ntfy_topic"`
	SMTPAddr       string   `toml:"smtp_addr"`
	From           string   `toml:"from"`
	AdminEmails    []string `toml:"admin_emails"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for archivist.
//
// Configuration sections by subsystem:
//   - Paths: repository roots, job tree, archive log, and databases
//   - Workflow: retry budget, review expiry, and resolution switches
//   - Sink: archive backend selection (file or arkivum)
//   - Notifications: ntfy or SMTP delivery of job results
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Sink          Sink          `toml:"sink"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/archivist/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("archivist.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a scan writes to. The repository
// roots are never created since they belong to the upstream system.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.JobRoot, c.Paths.ArchiveLog, c.Paths.LogDir,
		filepath.Dir(c.Paths.RegisterDB)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoragePrefixes lists the repository roots whose files may be archived.
func (c *Config) StoragePrefixes() []string {
	var out []string
	for _, p := range []string{c.Paths.Repository, c.Paths.LegacyFiles, c.Paths.LegacyPixels} {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// RetryBudget returns the number of failed attempts a file may accumulate.
func (c *Config) RetryBudget() int {
	return c.Workflow.MaxRetries
}

// ReviewExpiry returns how long a New job may wait for a decision.
func (c *Config) ReviewExpiry() time.Duration {
	return time.Duration(c.Workflow.ExpiryDays) * 24 * time.Hour
}

// IngestDelay returns how long the appliance may take to report a copied file.
func (a Arkivum) IngestDelay() time.Duration {
	return time.Duration(a.IngestDelaySeconds) * time.Second
}

// Timeout returns the HTTP timeout for appliance requests.
func (a Arkivum) Timeout() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
