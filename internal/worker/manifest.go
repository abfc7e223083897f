// Package worker provides JobRunner implementations: an external-process
// runner driving per-operation scripts, and an in-process runner backed by
// the OpenAI API.
package worker

import (
	"fmt"
	"log/slog"
	"os"

	"genbot/internal/domain"

	"gopkg.in/yaml.v3"
)

// Manifest maps operation kinds to worker script files and names the
// interpreter that runs them.
type Manifest struct {
	Interpreter string            `yaml:"interpreter"`
	Scripts     map[string]string `yaml:"scripts"`
}

// DefaultManifest mirrors the stock script set shipped with the bot.
func DefaultManifest() Manifest {
	return Manifest{
		Interpreter: "python",
		Scripts: map[string]string{
			string(domain.OpImage):          "image_generation.py",
			string(domain.OpImageVariation): "image_variation.py",
			string(domain.OpTextCompletion): "completion_generation.py",
			string(domain.OpTextEdit):       "edit_text.py",
		},
	}
}

// LoadManifest reads a manifest from a YAML file. A missing file yields the
// default manifest; a present but unparsable file is an error. Entries
// absent from the file fall back to the defaults.
func LoadManifest(path string, logger *slog.Logger) (Manifest, error) {
	m := DefaultManifest()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("worker manifest not found, using defaults", "path", path)
		return m, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read worker manifest: %w", err)
	}

	var loaded Manifest
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Manifest{}, fmt.Errorf("parse worker manifest %s: %w", path, err)
	}

	if loaded.Interpreter != "" {
		m.Interpreter = loaded.Interpreter
	}
	for kind, script := range loaded.Scripts {
		if script != "" {
			m.Scripts[kind] = script
		}
	}

	logger.Info("loaded worker manifest", "path", path, "interpreter", m.Interpreter)
	return m, nil
}

// Script returns the script file for an operation kind.
func (m Manifest) Script(kind domain.OperationKind) (string, bool) {
	s, ok := m.Scripts[string(kind)]
	return s, ok
}
