package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/config"
)

type Config struct {
	Subgraph SubgraphSettings
	Store    StoreSettings
	Sync     SyncSettings
	Metrics  MetricsSettings
	Serve    ServeSettings
}

type SubgraphSettings struct {
	Endpoints         []string
	PageSize          int           `yaml:"pageSize"`
	PageDelay         time.Duration `yaml:"pageDelay"`
	BlacklistDuration time.Duration `yaml:"blacklistDuration"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	// RecordRequests is a directory; when set every subgraph exchange is recorded there.
	RecordRequests string `yaml:"recordRequests"`
}

type StoreSettings struct {
	URI              string
	Database         string
	Collection       string
	CursorCollection string        `yaml:"cursorCollection"`
	OperationTimeout time.Duration `yaml:"operationTimeout"`
}

type SyncSettings struct {
	Categories   []string
	CursorCommit string `yaml:"cursorCommit"`
}

type MetricsSettings struct {
	Pushgateway string
	Job         string
}

type ServeSettings struct {
	Addr     string
	Interval time.Duration
}

type ConfigUnmarshaler interface {
	Unmarshal(compev CompositeEnvVar, sources ...ConfigFile) (Config, error)
}

// CompositeEnvVar resolves ${VAR} references in config files.
type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// JSONCompositeEnvVar looks a variable up in the process environment first and
// then in the JSON object held by the Parent variable, so secrets can be shipped
// as one env var, e.g. VAULTSYNC_SECRETS='{"MONGODB_URI":"mongodb://..."}'.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if v, exists := os.LookupEnv(child); exists {
		return v, true
	}
	if c.Parent != "" {
		s := os.Getenv(c.Parent)
		if s != "" {
			m := make(map[string]string)
			err := json.Unmarshal([]byte(s), &m)
			if err == nil {
				v, exists := m[child]
				return v, exists
			}
		}
	}
	return "", false
}

// LookupFunc adapts a plain lookup function such as os.LookupEnv.
type LookupFunc func(string) (string, bool)

func (f LookupFunc) LookupEnv(child string) (string, bool) {
	return f(child)
}

type YAMLConfigUnmarshaler struct{}

// Unmarshal merges sources in order, later sources overriding earlier ones.
func (u YAMLConfigUnmarshaler) Unmarshal(compev CompositeEnvVar, sources ...ConfigFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	options = append(options, config.Expand(compev.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}
	key := "subgraph"
	err = yaml.Get(key).Populate(&result.Subgraph)
	if err != nil {
		return result, readError(key, err)
	}
	key = "store"
	err = yaml.Get(key).Populate(&result.Store)
	if err != nil {
		return result, readError(key, err)
	}
	key = "sync"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.Sync)
		if err != nil {
			return result, readError(key, err)
		}
	}
	key = "metrics"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.Metrics)
		if err != nil {
			return result, readError(key, err)
		}
	}
	key = "serve"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.Serve)
		if err != nil {
			return result, readError(key, err)
		}
	}
	return result, nil
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Subgraph.Endpoints) == 0 {
		errs = append(errs, errors.New("subgraph.endpoints: at least one endpoint is required"))
	}
	for _, e := range c.Subgraph.Endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("subgraph.endpoints: %q is not an absolute http(s) URL", e))
		}
	}
	if c.Subgraph.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("subgraph.pageSize: must be positive, got %d", c.Subgraph.PageSize))
	}
	if c.Subgraph.PageDelay < 0 {
		errs = append(errs, errors.New("subgraph.pageDelay: must not be negative"))
	}
	if c.Store.URI == "" {
		errs = append(errs, errors.New("store.uri: required (set MONGODB_URI)"))
	}
	if c.Store.Database == "" && strings.HasPrefix(c.Store.URI, "mongodb") {
		errs = append(errs, errors.New("store.database: required (set MONGODB_DB_NAME)"))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection: required (set MONGODB_COLLECTION_NAME)"))
	}
	if _, err := ParseCursorCommit(c.Sync.CursorCommit); err != nil {
		errs = append(errs, fmt.Errorf("sync.cursorCommit: %w", err))
	}
	if _, err := SelectCategories(c.Sync.Categories); err != nil {
		errs = append(errs, fmt.Errorf("sync.categories: %w", err))
	}
	return errors.Join(errs...)
}

// SelectedCategories returns the categories enabled by sync.categories.
func (c Config) SelectedCategories() ([]CategoryDescriptor, error) {
	return SelectCategories(c.Sync.Categories)
}
