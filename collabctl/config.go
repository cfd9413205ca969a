package main

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the optional TOML config file. Flags override file values.
type Config struct {
	Url        string `toml:"url"`
	ApiUrl     string `toml:"api_url"`
	DocId      string `toml:"doc_id"`
	Collection string `toml:"collection"`
	Name       string `toml:"name"`
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}
	if path == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(configBytes, config); err != nil {
		return nil, err
	}
	return config, nil
}
