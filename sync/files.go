package sync

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type ConfigFile struct {
	Name   string
	Reader io.Reader
	Length int
}

// DefaultsConfigFile returns the built-in defaults, always the first config layer.
func DefaultsConfigFile() ConfigFile {
	return ConfigFileFromBytes("defaults.yaml", defaultsYAML)
}

func ConfigFileFromBytes(name string, b []byte) ConfigFile {
	return ConfigFile{
		Name:   name,
		Reader: bytes.NewReader(b),
		Length: len(b),
	}
}

// MustFindConfigFile reads the config file at path.
func MustFindConfigFile(path string) (ConfigFile, error) {
	var result ConfigFile
	b, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read config file %w", err)
	}
	return ConfigFileFromBytes(path, b), nil
}
