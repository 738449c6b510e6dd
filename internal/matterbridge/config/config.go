// Package config loads matterbridge's runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/bdobrica/matterbridge/common/environment"
)

// Config aggregates every subsystem's tunables, loaded once at startup and
// passed by reference to the rest of the application.
type Config struct {
	ChipToolPath      string
	CommissioningDir  string
	PAACertDirPath    string
	ClusterXMLDir     string
	DeviceTypeXMLFile string
	DatabasePath      string

	MQTTBrokerURL  string
	MQTTBrokerPort int
	MQTTUsername   string
	MQTTPassword   string

	HTTPAddr string

	PollingInterval       time.Duration
	MaxConcurrentDevices  int
	CommandTimeout        time.Duration
	DeviceErrorStop       bool
	AutoDiscoveryInterval time.Duration

	LogLevel          string
	EnableColoredLogs bool
}

// Load reads Config from the process environment, applying the defaults
// spec.md §4.9/§6 specifies. It returns an error when a structurally
// required variable is missing so that main can fail fast per the Recovery
// Policy in §7; it never calls os.Exit itself.
func Load() (*Config, error) {
	chipToolPath, err := environment.RequiredString("CHIP_TOOL_PATH")
	if err != nil {
		return nil, err
	}
	paaCertDir, err := environment.RequiredString("PAA_CERT_DIR_PATH")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChipToolPath:      chipToolPath,
		CommissioningDir:  environment.StringOr("COMMISSIONING_DIR", "/var/lib/matterbridge/commissioning"),
		PAACertDirPath:    paaCertDir,
		ClusterXMLDir:     environment.StringOr("CLUSTER_XML_DIR", ""),
		DeviceTypeXMLFile: environment.StringOr("DEVICETYPE_XML_FILE", ""),
		DatabasePath:      environment.StringOr("DATABASE_PATH", "./matterbridge.db"),

		MQTTBrokerURL:  environment.StringOr("MQTT_BROKER_URL", "tcp://localhost"),
		MQTTBrokerPort: environment.IntOr("MQTT_BROKER_PORT", 1883),
		MQTTUsername:   environment.StringOr("MQTT_USERNAME", ""),
		MQTTPassword:   environment.StringOr("MQTT_PASSWORD", ""),

		HTTPAddr: environment.StringOr("HTTP_ADDR", ":8080"),

		PollingInterval:       environment.DurationOr("POLLING_INTERVAL", 5*time.Second),
		MaxConcurrentDevices:  environment.IntOr("MAX_CONCURRENT_DEVICES", 5),
		CommandTimeout:        environment.DurationOr("COMMAND_TIMEOUT", 10*time.Second),
		DeviceErrorStop:       environment.BoolOr("DEVICE_ERROR_STOP", true),
		AutoDiscoveryInterval: environment.DurationOr("AUTO_DISCOVERY_INTERVAL", 300*time.Second),

		LogLevel:          environment.StringOr("LOG_LEVEL", "info"),
		EnableColoredLogs: environment.BoolOr("ENABLE_COLORED_LOGS", false),
	}

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH must not be empty")
	}

	return cfg, nil
}
