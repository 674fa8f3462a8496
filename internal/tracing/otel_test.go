package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replygate/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, Identity{AgentID: "helper", Version: "dev"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSetupRejectsUnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "zipkin"}, Identity{AgentID: "helper", Version: "dev"})
	if err == nil {
		t.Fatal("Setup() accepted an unknown protocol")
	}
}

func TestProtocolDefault(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "grpc"},
		{"HTTP", "http"},
		{"grpc", "grpc"},
	}
	for _, tt := range tests {
		if got := protocol(config.TelemetryConfig{Protocol: tt.in}); got != tt.want {
			t.Errorf("protocol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdentityAttributes(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		wantHash string
	}{
		{"with config hash", Identity{AgentID: "helper", Version: "v1", ConfigHash: "0a1b2c3d4e5f6071"}, "0a1b2c3d4e5f6071"},
		{"without config hash", Identity{AgentID: "helper", Version: "v1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[attribute.Key]string{}
			for _, kv := range tt.id.attributes("replygate") {
				got[kv.Key] = kv.Value.AsString()
			}
			if got["service.name"] != "replygate" || got["replygate.agent_id"] != "helper" || got["service.version"] != "v1" {
				t.Errorf("attributes = %v", got)
			}
			hash, ok := got["replygate.config_hash"]
			if ok != (tt.wantHash != "") || hash != tt.wantHash {
				t.Errorf("config hash = %q (present %v), want %q", hash, ok, tt.wantHash)
			}
		})
	}
}
