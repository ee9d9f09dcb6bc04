package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alertr/alertrd/internal/types"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// LoadConfig loads configuration from the directory containing path
func LoadConfig(path string) (*Config, error) {
	return LoadConfigDir(filepath.Dir(path))
}

// LoadConfigDir loads all configuration files from a directory
func LoadConfigDir(dir string) (*Config, error) {
	cfg := &Config{}

	// Load server.yaml
	if err := loadYAML(filepath.Join(dir, "server.yaml"), &cfg.Server); err != nil {
		return nil, fmt.Errorf("loading server.yaml: %w", err)
	}

	// Load alert-levels.yaml
	var levels struct {
		AlertLevels []AlertLevelConfig `yaml:"alert_levels"`
	}
	if err := loadYAML(filepath.Join(dir, "alert-levels.yaml"), &levels); err != nil {
		return nil, fmt.Errorf("loading alert-levels.yaml: %w", err)
	}
	cfg.AlertLevels = levels.AlertLevels

	// Load clients.yaml (optional)
	clientsPath := filepath.Join(dir, "clients.yaml")
	if _, err := os.Stat(clientsPath); err == nil {
		var clients struct {
			Clients []ClientConfig `yaml:"clients"`
		}
		if err := loadYAML(clientsPath, &clients); err != nil {
			return nil, fmt.Errorf("loading clients.yaml: %w", err)
		}
		cfg.Clients = clients.Clients
	}

	// Load internal-sensors.yaml (optional)
	sensorsPath := filepath.Join(dir, "internal-sensors.yaml")
	if _, err := os.Stat(sensorsPath); err == nil {
		if err := loadYAML(sensorsPath, &cfg.InternalSensors); err != nil {
			return nil, fmt.Errorf("loading internal-sensors.yaml: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8088"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":9099"
	}
	if cfg.Server.Storage.Backend == "" {
		cfg.Server.Storage.Backend = BackendMemory
	}
	if cfg.Server.Engine.IdleTimeout == 0 {
		cfg.Server.Engine.IdleTimeout = 10 * time.Second
	}
	if cfg.Server.Engine.BusySleep == 0 {
		cfg.Server.Engine.BusySleep = 500 * time.Millisecond
	}
	if cfg.Server.Engine.SendTimeout == 0 {
		cfg.Server.Engine.SendTimeout = 30 * time.Second
	}
	if cfg.Server.Engine.InstrumentationTimeout == 0 {
		cfg.Server.Engine.InstrumentationTimeout = 10
	}
	if cfg.Server.ManagerUpdate.IdleTimeout == 0 {
		cfg.Server.ManagerUpdate.IdleTimeout = 10 * time.Second
	}
	for i := range cfg.AlertLevels {
		inst := cfg.AlertLevels[i].Instrumentation
		if inst != nil && inst.Active && inst.Timeout == 0 {
			inst.Timeout = cfg.Server.Engine.InstrumentationTimeout
		}
	}
	for i := range cfg.Clients {
		if cfg.Clients[i].NodeType == "" {
			cfg.Clients[i].NodeType = "alert"
		}
	}
}

// ValidateConfig validates the configuration and reports every problem found
func ValidateConfig(cfg *Config) error {
	var errs error

	switch cfg.Server.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.Server.Storage.DatabaseURLEnv == "" {
			errs = multierr.Append(errs, fmt.Errorf("storage: database_url_env is required for the postgres backend"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("storage: backend must be 'memory' or 'postgres', got %q", cfg.Server.Storage.Backend))
	}

	if k := cfg.Server.ManagerUpdate.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("manager_update.kafka: at least one broker is required"))
		}
		if k.Topic == "" {
			errs = multierr.Append(errs, fmt.Errorf("manager_update.kafka: topic is required"))
		}
	}

	if len(cfg.AlertLevels) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("no alert levels configured"))
	}

	levels := make(map[int]AlertLevelConfig, len(cfg.AlertLevels))
	for _, al := range cfg.AlertLevels {
		if _, dup := levels[al.Level]; dup {
			errs = multierr.Append(errs, fmt.Errorf("alert level %d: defined more than once", al.Level))
			continue
		}
		levels[al.Level] = al

		if al.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("alert level %d: name is required", al.Level))
		}
		if inst := al.Instrumentation; inst != nil && inst.Active {
			if inst.Cmd == "" {
				errs = multierr.Append(errs, fmt.Errorf("alert level %d: instrumentation cmd is required", al.Level))
			}
			if inst.Timeout <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("alert level %d: instrumentation timeout must be > 0", al.Level))
			}
			if al.RulesActivated {
				errs = multierr.Append(errs, fmt.Errorf("alert level %d: instrumentation and rules cannot both be active", al.Level))
			}
		}
	}

	for _, c := range cfg.Clients {
		if c.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("client: name is required"))
		}
		if c.URLEnv == "" {
			errs = multierr.Append(errs, fmt.Errorf("client %s: url_env is required", c.Name))
		}
		if c.NodeType != "alert" && c.NodeType != "manager" {
			errs = multierr.Append(errs, fmt.Errorf("client %s: node_type must be 'alert' or 'manager'", c.Name))
		}
		for _, l := range c.AlertLevels {
			if _, ok := levels[l]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("client %s: references unknown alert level %d", c.Name, l))
			}
		}
	}

	if s := cfg.InternalSensors.InstrumentationError; s != nil && s.Enabled {
		if len(s.AlertLevels) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("internal sensor instrumentation_error: alert_levels is required"))
		}
		for _, l := range s.AlertLevels {
			al, ok := levels[l]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("internal sensor instrumentation_error: references unknown alert level %d", l))
				continue
			}
			if al.Instrumentation != nil && al.Instrumentation.Active {
				errs = multierr.Append(errs, fmt.Errorf("internal sensor instrumentation_error: alert level %d must not be instrumented", l))
			}
		}
	}

	return errs
}

// AlertLevelTable returns the runtime alert level policy table
func (c *Config) AlertLevelTable() []types.AlertLevel {
	out := make([]types.AlertLevel, 0, len(c.AlertLevels))
	for _, al := range c.AlertLevels {
		level := types.AlertLevel{
			Level:                 al.Level,
			Name:                  al.Name,
			TriggerAlways:         al.TriggerAlways,
			TriggerAlertTriggered: al.TriggerAlertTriggered,
			TriggerAlertNormal:    al.TriggerAlertNormal,
			RulesActivated:        al.RulesActivated,
		}
		if inst := al.Instrumentation; inst != nil && inst.Active {
			level.InstrumentationActive = true
			level.InstrumentationCmd = inst.Cmd
			level.InstrumentationTimeout = inst.Timeout
		}
		out = append(out, level)
	}
	return out
}
