// Package config loads and validates the simulation configuration plus the
// optional sink target blobs supplied on the command line. All validation
// failures are returned as errors so the caller can route them through the
// single usage/exit path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Simulation is the root of a simulation configuration file.
type Simulation struct {
	Domain         *Domain         `json:"domain" yaml:"domain"`
	IoTAgent       *HTTPEndpoint   `json:"iotAgent" yaml:"iotAgent"`
	MQTT           *MQTTEndpoint   `json:"mqtt" yaml:"mqtt"`
	Authentication *Authentication `json:"authentication" yaml:"authentication"`
	Devices        []Device        `json:"devices" yaml:"devices"`
}

// Domain carries the FIWARE-style multi-tenancy headers attached to every
// update request.
type Domain struct {
	Service    string `json:"service" yaml:"service"`
	Subservice string `json:"subservice" yaml:"subservice"`
}

// HTTPEndpoint is the HTTP IoT agent updates are posted to.
type HTTPEndpoint struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// Timeout returns the request timeout with a 10s default.
func (e *HTTPEndpoint) Timeout() time.Duration {
	if e == nil || e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// MQTTEndpoint is the broker updates are published to for MQTT devices.
type MQTTEndpoint struct {
	BrokerURL string `json:"brokerUrl" yaml:"brokerUrl"`
	User      string `json:"user" yaml:"user"`
	Password  string `json:"password" yaml:"password"`
}

// Authentication describes the token endpoint used to authorize update
// requests. When nil, updates are sent unauthenticated.
type Authentication struct {
	TokenURL   string `json:"tokenUrl" yaml:"tokenUrl"`
	User       string `json:"user" yaml:"user"`
	Password   string `json:"password" yaml:"password"`
	TTLSeconds int    `json:"ttlSeconds" yaml:"ttlSeconds"`
}

// TTL returns the token lifetime with a 1h default.
func (a *Authentication) TTL() time.Duration {
	if a == nil || a.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(a.TTLSeconds) * time.Second
}

// Device is one simulated device and its update schedule.
type Device struct {
	ID         string      `json:"deviceId" yaml:"deviceId"`
	Protocol   string      `json:"protocol" yaml:"protocol"`
	APIKey     string      `json:"apiKey" yaml:"apiKey"`
	Schedule   string      `json:"schedule" yaml:"schedule"`
	Attributes []Attribute `json:"attributes" yaml:"attributes"`
}

// Interval parses the device schedule as a Go duration.
func (d *Device) Interval() (time.Duration, error) {
	interval, err := time.ParseDuration(d.Schedule)
	if err != nil {
		return 0, fmt.Errorf("device %q: invalid schedule %q: %w", d.ID, d.Schedule, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("device %q: schedule must be positive, got %q", d.ID, d.Schedule)
	}
	return interval, nil
}

// Attribute is one reported attribute with its value specification. The value
// is either a literal, "random(min,max)" or "date-now".
type Attribute struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Device protocols. An empty protocol defaults to HTTP.
const (
	ProtocolHTTP = "http"
	ProtocolMQTT = "mqtt"
)

// Load reads a simulation configuration from path. The extension selects the
// decoder: .yml/.yaml use YAML, anything else is treated as JSON.
func Load(path string) (*Simulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var sim Simulation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &sim); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &sim); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	}

	if err := sim.Validate(); err != nil {
		return nil, err
	}
	return &sim, nil
}

// Validate checks cross-field constraints the decoders cannot express.
func (s *Simulation) Validate() error {
	if len(s.Devices) == 0 {
		return fmt.Errorf("configuration declares no devices")
	}
	for i := range s.Devices {
		dev := &s.Devices[i]
		if strings.TrimSpace(dev.ID) == "" {
			return fmt.Errorf("device %d: deviceId is required", i)
		}
		if _, err := dev.Interval(); err != nil {
			return err
		}
		if len(dev.Attributes) == 0 {
			return fmt.Errorf("device %q: at least one attribute is required", dev.ID)
		}
		for _, attr := range dev.Attributes {
			if strings.TrimSpace(attr.Name) == "" {
				return fmt.Errorf("device %q: attribute name is required", dev.ID)
			}
		}
		switch dev.Protocol {
		case ProtocolHTTP, "":
			if s.IoTAgent == nil || strings.TrimSpace(s.IoTAgent.URL) == "" {
				return fmt.Errorf("device %q uses HTTP but no iotAgent.url is configured", dev.ID)
			}
		case ProtocolMQTT:
			if s.MQTT == nil || strings.TrimSpace(s.MQTT.BrokerURL) == "" {
				return fmt.Errorf("device %q uses MQTT but no mqtt.brokerUrl is configured", dev.ID)
			}
		default:
			return fmt.Errorf("device %q: unknown protocol %q", dev.ID, dev.Protocol)
		}
	}
	if s.Authentication != nil && strings.TrimSpace(s.Authentication.TokenURL) == "" {
		return fmt.Errorf("authentication.tokenUrl is required when authentication is configured")
	}
	return nil
}
