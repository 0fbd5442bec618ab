package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validJSON = `{
  "domain": {"service": "smartcity", "subservice": "/parking"},
  "iotAgent": {"url": "http://localhost:8085/iot/json"},
  "devices": [
    {"deviceId": "sensor-1", "apiKey": "k1", "schedule": "5s",
     "attributes": [{"name": "temperature", "value": "random(10,30)"}]}
  ]
}`

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "sim.json", validJSON)
	sim, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid configuration, got: %v", err)
	}
	if len(sim.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(sim.Devices))
	}
	interval, err := sim.Devices[0].Interval()
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if interval != 5*time.Second {
		t.Fatalf("expected 5s interval, got %s", interval)
	}
	if sim.Domain.Service != "smartcity" {
		t.Fatalf("unexpected domain service %q", sim.Domain.Service)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "sim.yml", `
iotAgent:
  url: http://localhost:8085/iot/json
devices:
  - deviceId: sensor-1
    apiKey: k1
    schedule: 10s
    attributes:
      - name: temperature
        value: "21.5"
`)
	sim, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid YAML configuration, got: %v", err)
	}
	if sim.Devices[0].Attributes[0].Value != "21.5" {
		t.Fatalf("unexpected attribute value %q", sim.Devices[0].Attributes[0].Value)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"no devices",
			`{"iotAgent": {"url": "http://x"}, "devices": []}`,
			"no devices",
		},
		{
			"bad schedule",
			`{"iotAgent": {"url": "http://x"},
			  "devices": [{"deviceId": "d1", "schedule": "soon",
			               "attributes": [{"name": "a", "value": "1"}]}]}`,
			"invalid schedule",
		},
		{
			"mqtt device without broker",
			`{"devices": [{"deviceId": "d1", "protocol": "mqtt", "schedule": "1s",
			               "attributes": [{"name": "a", "value": "1"}]}]}`,
			"mqtt.brokerUrl",
		},
		{
			"http device without agent",
			`{"devices": [{"deviceId": "d1", "schedule": "1s",
			               "attributes": [{"name": "a", "value": "1"}]}]}`,
			"iotAgent.url",
		},
		{
			"unknown protocol",
			`{"iotAgent": {"url": "http://x"},
			  "devices": [{"deviceId": "d1", "protocol": "coap", "schedule": "1s",
			               "attributes": [{"name": "a", "value": "1"}]}]}`,
			"unknown protocol",
		},
		{
			"device without attributes",
			`{"iotAgent": {"url": "http://x"},
			  "devices": [{"deviceId": "d1", "schedule": "1s", "attributes": []}]}`,
			"at least one attribute",
		},
		{
			"authentication without token url",
			`{"iotAgent": {"url": "http://x"}, "authentication": {"user": "u"},
			  "devices": [{"deviceId": "d1", "schedule": "1s",
			               "attributes": [{"name": "a", "value": "1"}]}]}`,
			"tokenUrl",
		},
	}
	for _, tc := range cases {
		path := writeConfig(t, "sim.json", tc.body)
		_, err := Load(path)
		if err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected %q in error, got: %v", tc.name, tc.want, err)
		}
	}
}
