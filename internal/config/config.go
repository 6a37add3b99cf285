// Package config loads and validates the scan-orchestration configuration
// file: the set of scan descriptors and the storage tuning block.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"dirscan/internal/model"
)

// StorageConfig tunes the embedded history store.
type StorageConfig struct {
	DBPath        string `yaml:"dbPath"`
	StorageDir    string `yaml:"storageDir"`
	MaxHistory    int    `yaml:"maxHistory"`
	RetentionDays int    `yaml:"retentionDays"`
}

// ServerConfig tunes the REST control surface. AuthSecret signs the bearer
// tokens guarding mutating endpoints; empty disables the check.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	AuthSecret string `yaml:"authSecret"`
}

// Config is the root of the configuration file: scans plus ambient tuning.
type Config struct {
	Scans   []model.ScanDescriptor `yaml:"scans" validate:"dive"`
	Storage StorageConfig          `yaml:"storage"`
	Server  ServerConfig           `yaml:"server"`

	// Warnings carries non-fatal load-time diagnostics (e.g. duplicate
	// slugs dropped in favor of the oldest createdAt), surfaced by the
	// control surface's health endpoint.
	Warnings []string `yaml:"-"`
}

var durationLiteral = regexp.MustCompile(`^[0-9]+[smhd]$`)

// ParseIntervalLiteral validates a duration literal of the form N{s|m|h|d}.
// Cron expressions are five whitespace-separated fields and are accepted by
// the scheduler directly; this function only validates the literal form.
func ParseIntervalLiteral(s string) (time.Duration, bool) {
	if !durationLiteral.MatchString(s) {
		return 0, false
	}
	unit := s[len(s)-1]
	numStr := s[:len(s)-1]
	var n int64
	if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IsCronExpression reports whether s looks like a five-field cron
// expression (whitespace-separated fields; field contents are validated by
// the cron parser itself at schedule time).
func IsCronExpression(s string) bool {
	fields := 0
	inField := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if inField {
				inField = false
			}
			continue
		}
		if !inField {
			fields++
			inField = true
		}
	}
	return fields == 5
}

// Load reads the configuration file at the path named by the
// DIRSCAN_CONFIG_PATH environment variable, defaulting to "config.yaml".
func Load() (*Config, error) {
	path := os.Getenv("DIRSCAN_CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromFile(path)
}

// LoadFromFile reads, parses, and validates the configuration file at path.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	deduped := ResolveDuplicateSlugs(cfg.Scans)
	cfg.Warnings = duplicateSlugWarnings(cfg.Scans, deduped)
	cfg.Scans = deduped

	return &cfg, nil
}

// duplicateSlugWarnings reports one message per scan name dropped by
// ResolveDuplicateSlugs.
func duplicateSlugWarnings(original, kept []model.ScanDescriptor) []string {
	keptNames := make(map[string]bool, len(kept))
	for _, s := range kept {
		keptNames[s.Name] = true
	}
	var warnings []string
	for _, s := range original {
		if !keptNames[s.Name] {
			warnings = append(warnings, fmt.Sprintf("duplicate slug %q: scan %q dropped in favor of an older entry with the same slug", s.Slug, s.Name))
		}
	}
	return warnings
}

func (c *Config) applyDefaults() {
	if c.Storage.DBPath == "" {
		dir := c.Storage.StorageDir
		if dir == "" {
			dir = "."
		}
		c.Storage.DBPath = dir + "/history.db"
	}
	if c.Storage.MaxHistory == 0 {
		c.Storage.MaxHistory = 1000
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 90
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	for i := range c.Scans {
		if c.Scans[i].Slug == "" {
			c.Scans[i].Slug = model.GenerateSlug(c.Scans[i].Name)
		}
		if c.Scans[i].CreatedAt.IsZero() {
			c.Scans[i].CreatedAt = time.Now()
		}
	}
}

var structValidator = validator.New()

// validate runs field-level struct validation, then the cross-field
// invariants that validator tags cannot express (shares/paths/folders
// interdependency, interval grammar).
func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	for i, scan := range c.Scans {
		if err := validateScan(&scan); err != nil {
			return fmt.Errorf("scans[%d] (%s): %w", i, scan.Name, err)
		}
	}
	return nil
}

func validateScan(d *model.ScanDescriptor) error {
	if d.Name == "" {
		return &model.ConfigError{Field: "name", Msg: "must not be empty"}
	}
	if len(d.Shares) == 0 && len(d.Paths) == 0 {
		return &model.ConfigError{Field: "shares/paths", Msg: "at least one of shares or paths is required"}
	}
	if len(d.Folders) > 0 && len(d.Shares) != 1 {
		return &model.ConfigError{Field: "folders", Msg: "folders is only valid with exactly one share"}
	}
	for _, s := range d.Shares {
		if s == "" {
			return &model.ConfigError{Field: "shares", Msg: "must not contain empty entries"}
		}
	}
	for _, p := range d.Paths {
		if p == "" {
			return &model.ConfigError{Field: "paths", Msg: "must not contain empty entries"}
		}
	}
	for _, f := range d.Folders {
		if f == "" {
			return &model.ConfigError{Field: "folders", Msg: "must not contain empty entries"}
		}
	}
	if len(d.EffectivePaths()) == 0 {
		return &model.ConfigError{Field: "paths", Msg: "effective path set must be nonempty"}
	}
	if d.Interval == "" {
		return &model.ConfigError{Field: "interval", Msg: "must not be empty"}
	}
	if _, ok := ParseIntervalLiteral(d.Interval); !ok && !IsCronExpression(d.Interval) {
		return &model.ConfigError{Field: "interval", Msg: "must be a duration literal N{s|m|h|d} or a five-field cron expression"}
	}
	if d.Nas.Host == "" {
		return &model.ConfigError{Field: "nas.host", Msg: "must not be empty"}
	}
	return nil
}

// ResolveDuplicateSlugs keeps, for each slug, the descriptor with the oldest
// CreatedAt; ties are broken by stable file order. Input order is preserved
// among survivors.
func ResolveDuplicateSlugs(scans []model.ScanDescriptor) []model.ScanDescriptor {
	bestIdx := make(map[string]int, len(scans))
	for i, s := range scans {
		cur, ok := bestIdx[s.Slug]
		if !ok {
			bestIdx[s.Slug] = i
			continue
		}
		if scans[i].CreatedAt.Before(scans[cur].CreatedAt) {
			bestIdx[s.Slug] = i
		}
	}

	keep := make(map[int]bool, len(bestIdx))
	for _, idx := range bestIdx {
		keep[idx] = true
	}

	out := make([]model.ScanDescriptor, 0, len(keep))
	for i, s := range scans {
		if keep[i] {
			out = append(out, s)
		}
	}
	return out
}
