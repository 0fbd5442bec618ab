package simulator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"devsim/config"
)

func TestHTTPTransportSend(t *testing.T) {
	var gotQuery, gotBody string
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	tr := newHTTPTransport(&config.HTTPEndpoint{URL: srv.URL}, &config.Domain{
		Service:    "smartcity",
		Subservice: "/street-lights",
	})
	defer tr.Close()

	dev := &config.Device{ID: "lamp-1", APIKey: "key1"}
	err := tr.Send(context.Background(), dev, []byte(`{"luminosity":"80"}`), "tok-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotQuery != "k=key1&i=lamp-1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotHeader.Get("Fiware-Service") != "smartcity" {
		t.Fatalf("missing service header, got %q", gotHeader.Get("Fiware-Service"))
	}
	if gotHeader.Get("Fiware-ServicePath") != "/street-lights" {
		t.Fatalf("missing subservice header, got %q", gotHeader.Get("Fiware-ServicePath"))
	}
	if gotHeader.Get("X-Auth-Token") != "tok-1" {
		t.Fatalf("missing auth token header, got %q", gotHeader.Get("X-Auth-Token"))
	}
	if gotBody != `{"luminosity":"80"}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestHTTPTransportNoTokenNoDomain(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
	}))
	defer srv.Close()

	tr := newHTTPTransport(&config.HTTPEndpoint{URL: srv.URL}, nil)
	defer tr.Close()

	if err := tr.Send(context.Background(), &config.Device{ID: "d"}, []byte(`{}`), ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := gotHeader["X-Auth-Token"]; ok {
		t.Fatalf("auth header must be absent without a token")
	}
	if _, ok := gotHeader["Fiware-Service"]; ok {
		t.Fatalf("service header must be absent without a domain")
	}
}

func TestHTTPTransportRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := newHTTPTransport(&config.HTTPEndpoint{URL: srv.URL}, nil)
	defer tr.Close()

	err := tr.Send(context.Background(), &config.Device{ID: "d"}, []byte(`{}`), "")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestEncodePayload(t *testing.T) {
	out, err := encodePayload(map[string]string{"temperature": "21.50"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != `{"temperature":"21.50"}` {
		t.Fatalf("unexpected payload %s", out)
	}
}
