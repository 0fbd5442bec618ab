package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"devsim/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport delivers one encoded device update to its destination.
type Transport interface {
	Send(ctx context.Context, dev *config.Device, payload []byte, token string) error
	Close()
}

// httpTransport posts updates to the IoT agent's JSON measure endpoint, with
// the device API key and ID as query parameters and the domain headers
// attached.
type httpTransport struct {
	client *http.Client
	base   string
	domain *config.Domain
}

func newHTTPTransport(endpoint *config.HTTPEndpoint, domain *config.Domain) *httpTransport {
	return &httpTransport{
		client: &http.Client{Timeout: endpoint.Timeout()},
		base:   endpoint.URL,
		domain: domain,
	}
}

func (t *httpTransport) Send(ctx context.Context, dev *config.Device, payload []byte, token string) error {
	target := fmt.Sprintf("%s?k=%s&i=%s", t.base, url.QueryEscape(dev.APIKey), url.QueryEscape(dev.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.domain != nil {
		req.Header.Set("Fiware-Service", t.domain.Service)
		req.Header.Set("Fiware-ServicePath", t.domain.Subservice)
	}
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from IoT agent", resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) Close() {
	t.client.CloseIdleConnections()
}

// mqttTransport publishes updates to the broker on the conventional
// /{apiKey}/{deviceId}/attrs topic.
type mqttTransport struct {
	client mqtt.Client
}

func newMQTTTransport(endpoint *config.MQTTEndpoint) (*mqttTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(endpoint.BrokerURL)
	opts.SetClientID(fmt.Sprintf("devsim-%d", time.Now().Unix()))
	if endpoint.User != "" {
		opts.SetUsername(endpoint.User)
		opts.SetPassword(endpoint.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &mqttTransport{client: client}, nil
}

func (t *mqttTransport) Send(ctx context.Context, dev *config.Device, payload []byte, token string) error {
	topic := fmt.Sprintf("/%s/%s/attrs", dev.APIKey, dev.ID)
	pub := t.client.Publish(topic, 0, false, payload)
	select {
	case <-pub.Done():
		return pub.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *mqttTransport) Close() {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}

// encodePayload renders the attribute values resolved at fire time as the
// JSON measure object.
func encodePayload(values map[string]string) ([]byte, error) {
	return json.Marshal(values)
}
