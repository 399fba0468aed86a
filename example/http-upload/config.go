package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mazrean/mimepart"
)

type config struct {
	ListenAddr string          `yaml:"listen_addr"`
	IconDir    string          `yaml:"icon_dir"`
	UploadDir  string          `yaml:"upload_dir"`
	Parser     mimepart.Config `yaml:"parser"`
}

// loadConfig reads the YAML file at CONFIG_PATH, falling back to defaults
// when it does not exist, and applies the environment overrides.
func loadConfig() (*config, error) {
	c := config{
		ListenAddr: ":8080",
		IconDir:    "icons",
		UploadDir:  "uploads",
	}

	path := getenv("CONFIG_PATH", "./config.yaml")
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	// ENV override
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ICON_DIR"); v != "" {
		c.IconDir = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := os.Getenv("MAX_MEM_SIZE"); v != "" {
		if err := c.Parser.MaxMemSize.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("MAX_MEM_SIZE: %w", err)
		}
	}

	return &c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}

	return def
}
