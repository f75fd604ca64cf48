package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional on-disk config a user can drop at
// ~/.aurus-sync.yaml (or pass via --config) to avoid repeating flags
// across runs. Every field except Platform has a corresponding flag that
// overrides it.
type fileConfig struct {
	DeviceName string `yaml:"device_name"`
	Platform   string `yaml:"platform"`
	RelayURL   string `yaml:"relay_url"`
	LANPairing bool   `yaml:"lan_pairing"`
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := fileConfig{Platform: "cli", LANPairing: true}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
