package regulation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
)

// RulePack is the on-disk YAML shape of one jurisdiction rule set. Regulators
// ship rule packs as files, so rule changes deploy without code changes.
type RulePack struct {
	Jurisdiction Jurisdiction `yaml:"jurisdiction"`
	Version      string       `yaml:"version"`
	Rules        []Rule       `yaml:"rules"`
}

// LoadPackFile parses one YAML rule pack and registers it as a draft version.
func LoadPackFile(reg *Registry, path string) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("regulation: read pack %s: %w", path, err)
	}
	return LoadPack(reg, data)
}

// LoadPack registers a rule pack from raw YAML as a draft version.
func LoadPack(reg *Registry, data []byte) (*Version, error) {
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("regulation: parse pack: %v: %w", err, faults.ErrValidation)
	}
	if err := validatePack(&pack); err != nil {
		return nil, err
	}
	if err := reg.AddJurisdiction(pack.Jurisdiction); err != nil {
		return nil, err
	}
	return reg.CreateDraft(pack.Jurisdiction.ID, pack.Version, pack.Rules)
}

// LoadPackDir loads every .yaml/.yml rule pack in a directory.
func LoadPackDir(reg *Registry, dir string) ([]*Version, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("regulation: read pack dir %s: %w", dir, err)
	}

	var versions []*Version
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		v, err := LoadPackFile(reg, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("regulation: load %s: %w", entry.Name(), err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func validatePack(pack *RulePack) error {
	if pack.Jurisdiction.ID == "" {
		return fmt.Errorf("regulation: pack missing jurisdiction id: %w", faults.ErrValidation)
	}
	for i, rule := range pack.Rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("regulation: pack rule %d: %w", i, err)
		}
	}
	return nil
}
