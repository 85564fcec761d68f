// Package setup handles stagehand project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/stagehq/stagehand/internal/fsjson"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/templates"
)

// StageDirName is the coordination directory created under the project root.
const StageDirName = ".stagehand"

// Run initializes the .stagehand/ directory in the given project directory.
// projectName overrides the auto-detected name (directory basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, StageDirName)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	if err := EnsureLayout(base); err != nil {
		return err
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(base, "config.yaml"), content, 0644); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	return nil
}

// EnsureLayout creates the coordination directory tree and empty store
// skeletons for any file that does not exist yet. Safe to call on every
// session start.
func EnsureLayout(stageDir string) error {
	for _, d := range []string{"", "quarantine", "logs"} {
		if err := os.MkdirAll(filepath.Join(stageDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	skeletons := map[string]string{
		"locks.json":    model.FileTypeLockStore,
		"session.json":  model.FileTypeSessionState,
		"outcomes.json": model.FileTypeOutcomeLog,
	}
	for name, fileType := range skeletons {
		path := filepath.Join(stageDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := fsjson.GenerateSkeleton(path, fileType); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

// LoadConfig reads config.yaml from the coordination directory, filling
// defaults; a missing file yields the default configuration.
func LoadConfig(stageDir string) (model.Config, error) {
	var cfg model.Config
	data, err := os.ReadFile(filepath.Join(stageDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.Project.Root = projectDir
	cfg.ApplyDefaults()

	return &cfg, nil
}
