package config

import (
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/definitely/not/exist.toml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	p := writeConfig(t, "payload_root = [unterminated\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for invalid toml")
	}
}

func TestLoadInvalidSchedule(t *testing.T) {
	p := writeConfig(t, "[update]\nschedule = \"every now and then\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestLoadInvalidTimeZone(t *testing.T) {
	p := writeConfig(t, "[update]\nschedule = \"@daily\"\ntime_zone = \"Nowhere/Land\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for invalid time zone")
	}
}

func TestLoadNegativeDuration(t *testing.T) {
	p := writeConfig(t, "[events]\nping_interval = \"-1s\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
