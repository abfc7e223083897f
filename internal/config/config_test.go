package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Validate(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadAndSave_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Worker.Mode = "api"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Telegram.Token != "123:abc" {
		t.Errorf("token: got %q", loaded.Telegram.Token)
	}
	if loaded.Worker.Mode != "api" {
		t.Errorf("worker mode: got %q", loaded.Worker.Mode)
	}
}

func TestLoad_EnvOverrideWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Telegram.Token = "from-file"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GENBOT_TELEGRAM_TOKEN", "from-env")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Telegram.Token != "from-env" {
		t.Errorf("token: got %q, want env override", loaded.Telegram.Token)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GENBOT_TEST_VAR", "value1")

	result := ExpandEnvVars(`{"key": "${GENBOT_TEST_VAR}"}`)
	if result != `{"key": "value1"}` {
		t.Errorf("got %q", result)
	}

	result = ExpandEnvVars(`${GENBOT_UNSET_VAR:-fallback}`)
	if result != "fallback" {
		t.Errorf("default value: got %q", result)
	}

	result = ExpandEnvVars(`${GENBOT_UNSET_VAR}`)
	if result != "${GENBOT_UNSET_VAR}" {
		t.Errorf("unset without default should stay put, got %q", result)
	}
}

func TestValidate_RejectsBadWorkerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.Mode = "carrier-pigeon"
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for unknown worker mode")
	}
}

func TestValidate_ScriptModeNeedsScriptDir(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.ScriptDir = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for script mode without scriptDir")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestExpandPath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandPath("~/x/y")
	if got != filepath.Join(home, "x/y") {
		t.Errorf("got %q", got)
	}
}
