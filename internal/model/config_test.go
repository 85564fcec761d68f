package model

import "testing"

func TestConfig_ApplyDefaults_Empty(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Locks.TTLSec != 300 {
		t.Errorf("TTLSec: got %d, want 300", cfg.Locks.TTLSec)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("MaxRetries: got %d, want 2", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelayMS != 2000 {
		t.Errorf("BaseDelayMS: got %d, want 2000", cfg.Retry.BaseDelayMS)
	}
	if cfg.Calibration.MaxRecords != 500 {
		t.Errorf("MaxRecords: got %d, want 500", cfg.Calibration.MaxRecords)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level: got %q, want info", cfg.Logging.Level)
	}
}

func TestConfig_ApplyDefaults_PreservesExplicit(t *testing.T) {
	cfg := Config{}
	cfg.Locks.TTLSec = 60
	cfg.Retry.MaxRetries = 5
	cfg.Logging.Level = "debug"
	cfg.ApplyDefaults()

	if cfg.Locks.TTLSec != 60 {
		t.Errorf("TTLSec overwritten: got %d", cfg.Locks.TTLSec)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries overwritten: got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level overwritten: got %q", cfg.Logging.Level)
	}
}
