package config

import "time"

// Config represents the complete alertrd configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	AlertLevels     []AlertLevelConfig    `yaml:"alert_levels"`
	Clients         []ClientConfig        `yaml:"clients,omitempty"`
	InternalSensors InternalSensorsConfig `yaml:"internal_sensors,omitempty"`
}

// ServerConfig is loaded from server.yaml
type ServerConfig struct {
	HTTPAddr      string              `yaml:"http_addr"`
	GRPCAddr      string              `yaml:"grpc_addr"`
	LogFile       string              `yaml:"log_file,omitempty"`
	Storage       StorageConfig       `yaml:"storage"`
	Engine        EngineConfig        `yaml:"engine"`
	ManagerUpdate ManagerUpdateConfig `yaml:"manager_update,omitempty"`
}

// StorageConfig selects the durable storage backend
type StorageConfig struct {
	Backend        string `yaml:"backend"` // "memory" or "postgres"
	DatabaseURLEnv string `yaml:"database_url_env,omitempty"`
	// AlertSystemActive arms the in-memory backend at startup.
	AlertSystemActive bool `yaml:"alert_system_active,omitempty"`
}

// EngineConfig tunes the sensor alert engine loop
type EngineConfig struct {
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	BusySleep              time.Duration `yaml:"busy_sleep"`
	SendTimeout            time.Duration `yaml:"send_timeout"`
	InstrumentationTimeout int           `yaml:"default_instrumentation_timeout"` // seconds
}

// ManagerUpdateConfig configures the manager update executer
type ManagerUpdateConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Kafka       *KafkaConfig  `yaml:"kafka,omitempty"`
}

// KafkaConfig enables publishing sensor state changes to Kafka
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AlertLevelConfig defines one alert level (alert-levels.yaml)
type AlertLevelConfig struct {
	Level                 int                    `yaml:"level"`
	Name                  string                 `yaml:"name"`
	TriggerAlways         bool                   `yaml:"trigger_always"`
	TriggerAlertTriggered bool                   `yaml:"trigger_alert_triggered"`
	TriggerAlertNormal    bool                   `yaml:"trigger_alert_normal"`
	RulesActivated        bool                   `yaml:"rules_activated,omitempty"`
	Instrumentation       *InstrumentationConfig `yaml:"instrumentation,omitempty"`
}

// InstrumentationConfig defines the external program run for an alert level
type InstrumentationConfig struct {
	Active  bool   `yaml:"active"`
	Cmd     string `yaml:"cmd"`
	Timeout int    `yaml:"timeout"` // seconds
}

// ClientConfig defines a statically configured webhook alert client (clients.yaml)
type ClientConfig struct {
	Name        string `yaml:"name"`
	NodeType    string `yaml:"node_type"` // "alert" or "manager"
	URLEnv      string `yaml:"url_env"`
	AlertLevels []int  `yaml:"alert_levels"`
}

// InternalSensorsConfig is loaded from internal-sensors.yaml
type InternalSensorsConfig struct {
	InstrumentationError *InternalSensorConfig `yaml:"instrumentation_error,omitempty"`
}

// InternalSensorConfig defines a sensor that lives inside the server
type InternalSensorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	NodeID      int    `yaml:"node_id"`
	SensorID    int    `yaml:"sensor_id"`
	Description string `yaml:"description"`
	AlertLevels []int  `yaml:"alert_levels"`
}
