package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSimFlagSkipsStation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astroshell.yaml")
	if err := os.WriteFile(path, []byte("board:\n  kind: modbus\n"), 0644); err != nil {
		t.Fatal(err)
	}
	oldPath, oldSim := *configPath, *sim
	defer func() { *configPath, *sim = oldPath, oldSim }()
	*configPath = path

	*sim = false
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() accepted a modbus board without a station")
	}
	*sim = true
	c, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() with -sim = %v", err)
	}
	if c.Board.Kind != "sim" {
		t.Errorf("Board.Kind = %q, want sim", c.Board.Kind)
	}
}
