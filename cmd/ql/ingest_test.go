package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestIngestCmd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := runCommand(t, "db", "init", "--config", cfgPath); err != nil {
		t.Fatal(err)
	}

	// Drop two parseable files and one junk name into the archive root.
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	var cfg struct {
		ArchiveRoot string `yaml:"archive_root"`
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"jw00756001001_02101_00001_nrs1_rate.fits",
		"jw00756001001_02101_00001_nrs2_rate.fits",
		"garbage.fits",
	} {
		if err := os.WriteFile(filepath.Join(cfg.ArchiveRoot, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runCommand(t, "ingest", "--config", cfgPath)
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Indexed 2 file roots from 3 files (1 malformed, 0 skipped)") {
		t.Errorf("output = %q", out)
	}
}

func TestIngestCmd_RootOverride(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := runCommand(t, "db", "init", "--config", cfgPath); err != nil {
		t.Fatal(err)
	}

	alt := t.TempDir()
	if err := os.WriteFile(filepath.Join(alt, "jw01022002001_03101_00002_mirimage_cal.fits"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "ingest", "--config", cfgPath, "--root", alt)
	if err != nil {
		t.Fatalf("ingest --root: %v", err)
	}
	if !strings.Contains(out, "Indexed 1 file roots") {
		t.Errorf("output = %q", out)
	}
}
