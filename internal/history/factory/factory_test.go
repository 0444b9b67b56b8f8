package factory

import (
	"path/filepath"
	"testing"
)

func TestNewSinkFromDSN(t *testing.T) {
	s, err := NewSinkFromDSN(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("sqlite path: %v", err)
	}
	_ = s.Close()

	s, err = NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("sqlite memory: %v", err)
	}
	_ = s.Close()

	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := NewSinkFromDSN("mongodb://h/db"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestNewSinkFromDSNClickHouseBadTable(t *testing.T) {
	if _, err := NewSinkFromDSN("clickhouse://localhost:9000?table=bad-name"); err == nil {
		t.Fatalf("expected error for invalid table name")
	}
}
