package openbag

import (
	"errors"
	"testing"
)

func TestExportedConstructors_ProduceUsableValues(t *testing.T) {
	buf := NewBuffer(4)
	if buf == nil {
		t.Fatal("expected non-nil buffer")
	}
	buf.Start()
	if !buf.IsRunning() {
		t.Fatal("expected buffer to report running after Start")
	}

	reg := NewSchemaRegistry(nil)
	if reg == nil {
		t.Fatal("expected non-nil schema registry")
	}
}

func TestExportedStateConstants(t *testing.T) {
	if RecorderStopped.String() != "stopped" {
		t.Fatalf("expected RecorderStopped.String() == \"stopped\", got %q", RecorderStopped.String())
	}
	if PlayerPlaying.String() != "playing" {
		t.Fatalf("expected PlayerPlaying.String() == \"playing\", got %q", PlayerPlaying.String())
	}
}

func TestExportedSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{ErrConfig, ErrSchema, ErrIO, ErrBackpressureDrop, ErrShutdownDrop, ErrPublish}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Fatalf("expected sentinel %d and %d to be distinct, both matched errors.Is", i, j)
			}
		}
	}
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recorder.Topics = []TopicConfig{{Name: "t", Type: "google.protobuf.StringValue"}}
	cfg.Recorder.OutputPath = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config (with a topic) to validate, got: %v", err)
	}
}
