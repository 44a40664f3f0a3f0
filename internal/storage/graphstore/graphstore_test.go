package graphstore

import (
	"os"
	"testing"

	"github.com/routilux/routilux-go/internal/logger"
)

func TestNewFromEnvUnset(t *testing.T) {
	old, had := os.LookupEnv("NEO4J_URI")
	os.Unsetenv("NEO4J_URI")
	defer func() {
		if had {
			os.Setenv("NEO4J_URI", old)
		}
	}()

	c, err := NewFromEnv(logger.Nop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil client when NEO4J_URI is unset")
	}
}

func TestMarshalConfigRoundTrip(t *testing.T) {
	cfg := map[string]any{"a": float64(1), "b": "two"}
	s, err := marshalConfig(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := unmarshalConfig(s)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["b"] != "two" {
		t.Fatalf("unexpected roundtrip: %+v", out)
	}
}

func TestToStringMapRoundTrip(t *testing.T) {
	m := map[string]string{"x": "y"}
	converted := toAnyMap(m)
	back := toStringMap(converted)
	if back["x"] != "y" {
		t.Fatalf("unexpected roundtrip: %+v", back)
	}
}
