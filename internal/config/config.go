package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"planline/internal/calendar"
	"planline/internal/events"
)

// Config models planline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"project" json:"project"`
	Calendar   calendar.Spec    `yaml:"calendar" json:"calendar"`
	Scheduling SchedulingConfig `yaml:"scheduling" json:"scheduling"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type SchedulingConfig struct {
	// GapWarningDays flags segment gaps longer than this many calendar days.
	GapWarningDays        int `yaml:"gap_warning_days" json:"gap_warning_days"`
	DefaultMaxOccurrences int `yaml:"default_max_occurrences" json:"default_max_occurrences"`
	VarianceThresholdDays int `yaml:"variance_threshold_days" json:"variance_threshold_days"`
	// AutoRecompute reschedules the project after every task or link edit.
	AutoRecompute bool `yaml:"auto_recompute" json:"auto_recompute"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.ID) == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("config.calendar: %w", err)
	}
	s := c.Scheduling
	if s.GapWarningDays < 0 {
		return fmt.Errorf("config.scheduling.gap_warning_days must not be negative")
	}
	if s.DefaultMaxOccurrences < 0 {
		return fmt.Errorf("config.scheduling.default_max_occurrences must not be negative")
	}
	if s.VarianceThresholdDays < 0 {
		return fmt.Errorf("config.scheduling.variance_threshold_days must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http or https", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if name := strings.TrimSpace(evt); name != "" && !events.KnownPattern(name) {
				return fmt.Errorf("config.webhooks[%d].events: unknown event type %q", i, name)
			}
		}
	}
	return nil
}

// BuildCalendar turns the calendar section into a working calendar.
func (c *Config) BuildCalendar() (*calendar.Calendar, error) {
	return calendar.New(c.Calendar)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// scheduling options take their defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Config) applyDefaults() {
	if len(c.Calendar.Week) == 0 {
		c.Calendar.Week = calendar.StandardSpec().Week
	}
	if c.Scheduling.GapWarningDays == 0 {
		c.Scheduling.GapWarningDays = 30
	}
	if c.Scheduling.DefaultMaxOccurrences == 0 {
		c.Scheduling.DefaultMaxOccurrences = 100
	}
	if c.Scheduling.VarianceThresholdDays == 0 {
		c.Scheduling.VarianceThresholdDays = 1
	}
}

const defaultTemplate = `project:
  id: %s

calendar:
  week:
    monday: {working: true, hours: 8}
    tuesday: {working: true, hours: 8}
    wednesday: {working: true, hours: 8}
    thursday: {working: true, hours: 8}
    friday: {working: true, hours: 8}
    saturday: {working: false}
    sunday: {working: false}
  holidays: []
  exceptions: []

scheduling:
  gap_warning_days: 30
  default_max_occurrences: 100
  variance_threshold_days: 1
  auto_recompute: true
`
