package sync

import (
	"fmt"
	"os"
)

const (
	// ConfigPathEnvVar names an optional YAML file layered over the defaults.
	ConfigPathEnvVar = "VAULTSYNC_CONFIG"
	// SecretsEnvVar may hold a JSON object of variables used for ${VAR} expansion.
	SecretsEnvVar = "VAULTSYNC_SECRETS"
)

// configOptions holds optional configuration for LoadConfigFromEnvironment.
type configOptions struct {
	path   string
	lookup CompositeEnvVar
}

// ConfigOption is a functional option for configuring LoadConfigFromEnvironment.
type ConfigOption func(*configOptions)

// ConfigWithFile layers the YAML file at path over the defaults.
// It takes precedence over VAULTSYNC_CONFIG.
func ConfigWithFile(path string) ConfigOption {
	return func(o *configOptions) {
		o.path = path
	}
}

// ConfigWithLookup replaces environment lookups, mostly for tests.
func ConfigWithLookup(lookup CompositeEnvVar) ConfigOption {
	return func(o *configOptions) {
		o.lookup = lookup
	}
}

// LoadConfigFromEnvironment loads defaults and the optional config file,
// expands ${VAR} references and validates the result.
func LoadConfigFromEnvironment(opts ...ConfigOption) (Config, error) {
	options := configOptions{
		path:   os.Getenv(ConfigPathEnvVar),
		lookup: JSONCompositeEnvVar{Parent: SecretsEnvVar},
	}
	for _, opt := range opts {
		opt(&options)
	}

	sources := []ConfigFile{DefaultsConfigFile()}
	if options.path != "" {
		file, err := MustFindConfigFile(options.path)
		if err != nil {
			return Config{}, err
		}
		sources = append(sources, file)
	}

	var unmarshaler ConfigUnmarshaler = YAMLConfigUnmarshaler{}
	result, err := unmarshaler.Unmarshal(options.lookup, sources...)
	if err != nil {
		return result, fmt.Errorf("failed to load config %w", err)
	}
	if err := result.Validate(); err != nil {
		return result, fmt.Errorf("invalid config: %w", err)
	}
	return result, nil
}
