package model

import (
	"testing"
	"time"
)

func TestGenerateID_ValidFormat(t *testing.T) {
	for _, idType := range []IDType{IDTypeLock, IDTypeTask, IDTypeOutcome} {
		id, err := GenerateID(idType)
		if err != nil {
			t.Fatalf("GenerateID(%s) failed: %v", idType, err)
		}
		if !ValidateID(id) {
			t.Errorf("generated ID %q does not validate", id)
		}
		parsed, err := ParseIDType(id)
		if err != nil {
			t.Fatalf("ParseIDType(%s): %v", id, err)
		}
		if parsed != idType {
			t.Errorf("ParseIDType(%s) = %s, want %s", id, parsed, idType)
		}
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	if _, err := GenerateID(IDType("bogus")); err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeLock)
		if err != nil {
			t.Fatalf("GenerateID failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestParseIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id, err := GenerateID(IDTypeTask)
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	ts, err := ParseIDTimestamp(id)
	if err != nil {
		t.Fatalf("ParseIDTimestamp failed: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v out of expected range", ts)
	}
}

func TestValidateID_Rejects(t *testing.T) {
	bad := []string{
		"",
		"lock_123_abcd",
		"cmd_1234567890_abcdef12",
		"lock_1234567890_XYZ",
	}
	for _, id := range bad {
		if ValidateID(id) {
			t.Errorf("ValidateID(%q) should be false", id)
		}
	}
}
