package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Render encodes cfg as a complete marionette.toml.
func Render(cfg Runtime) ([]byte, error) {
	out, err := toml.Marshal(fileFromRuntime(cfg))
	if err != nil {
		return nil, fmt.Errorf("render marionette config: %w", err)
	}
	return out, nil
}

// Template is the default configuration with every key spelled out.
func Template() ([]byte, error) {
	return Render(Default())
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}
