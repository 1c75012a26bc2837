// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultPollInterval        = 15 * time.Second
	DefaultMaxWait             = 2 * time.Hour
	DefaultSequentialThreshold = 5
	DefaultMaxWorkers          = 10
	DefaultNameRatio           = 50
	DefaultTitleRatio          = 90
	DefaultCatalogRatio        = 65
)

// Config is the application configuration.
type Config struct {
	QBittorrent QBittorrentConfig `mapstructure:"qbittorrent"`
	Sonarr      ArrConfig         `mapstructure:"sonarr"`
	Radarr      ArrConfig         `mapstructure:"radarr"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Move        MoveConfig        `mapstructure:"move"`
	Resolve     ResolveConfig     `mapstructure:"resolve"`
	Matching    MatchingConfig    `mapstructure:"matching"`
	History     HistoryConfig     `mapstructure:"history"`
	Categories  CategoriesConfig  `mapstructure:"categories"`
}

// CategoriesConfig names the qBittorrent categories handled by each catalog.
type CategoriesConfig struct {
	TV     string `mapstructure:"tv"`     // Sonarr-tracked content
	Movies string `mapstructure:"movies"` // Radarr-tracked content
}

// All returns the configured categories in selection order.
func (c CategoriesConfig) All() []string {
	return []string{c.Movies, c.TV}
}

// QBittorrentConfig holds connection settings for the torrent client.
type QBittorrentConfig struct {
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

// ArrConfig holds connection settings for a Sonarr or Radarr instance.
type ArrConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"apiKey"`
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
}

// PathsConfig holds the storage roots relocation moves content between.
type PathsConfig struct {
	MediaRoot    string `mapstructure:"mediaRoot"`    // where the library currently lives, one subdirectory per category
	TorrentsRoot string `mapstructure:"torrentsRoot"` // where torrent data is moved to
	ArchiveRoot  string `mapstructure:"archiveRoot"`  // where the restored tree is built; content here is never re-selected
}

// MoveConfig controls the move/recheck settle loop.
type MoveConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	MaxWait      time.Duration `mapstructure:"maxWait"`
}

// ResolveConfig controls batched torrent resolution.
type ResolveConfig struct {
	SequentialThreshold int `mapstructure:"sequentialThreshold"` // largest batch resolved without a worker pool
	MaxWorkers          int `mapstructure:"maxWorkers"`
}

// MatchingConfig holds fuzzy matching thresholds on a 0-100 scale.
type MatchingConfig struct {
	NameRatio    float64 `mapstructure:"nameRatio"`    // whole-name similarity for season grouping
	TitleRatio   float64 `mapstructure:"titleRatio"`   // stricter title-only fallback for season grouping
	CatalogRatio float64 `mapstructure:"catalogRatio"` // title match against Sonarr/Radarr entries
}

// HistoryConfig holds run ledger settings.
type HistoryConfig struct {
	DatabasePath string `mapstructure:"databasePath"` // empty disables the ledger
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches default locations: $HOME, current directory, /config
// for files named .mediashift.yaml, mediashift.yaml, or config.yaml.
//
// Environment variables with prefix MEDIASHIFT_ override config file values.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName(".mediashift")
		v.SetConfigName("mediashift")
		v.SetConfigName("config")
	}

	// Environment variables
	v.SetEnvPrefix("MEDIASHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("qbittorrent.httpTimeout", DefaultHTTPTimeout)
	v.SetDefault("sonarr.httpTimeout", DefaultHTTPTimeout)
	v.SetDefault("radarr.httpTimeout", DefaultHTTPTimeout)
	v.SetDefault("move.pollInterval", DefaultPollInterval)
	v.SetDefault("move.maxWait", DefaultMaxWait)
	v.SetDefault("resolve.sequentialThreshold", DefaultSequentialThreshold)
	v.SetDefault("resolve.maxWorkers", DefaultMaxWorkers)
	v.SetDefault("matching.nameRatio", DefaultNameRatio)
	v.SetDefault("matching.titleRatio", DefaultTitleRatio)
	v.SetDefault("matching.catalogRatio", DefaultCatalogRatio)
	v.SetDefault("categories.tv", "tv")
	v.SetDefault("categories.movies", "movies")

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	if cfg.QBittorrent.URL == "" {
		errs = append(errs, errors.New("qbittorrent.url is required"))
	} else if _, err := url.Parse(cfg.QBittorrent.URL); err != nil {
		errs = append(errs, fmt.Errorf("qbittorrent: invalid url: %w", err))
	}

	for name, arr := range map[string]ArrConfig{"sonarr": cfg.Sonarr, "radarr": cfg.Radarr} {
		if arr.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", name))
		} else if _, err := url.Parse(arr.URL); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid url: %w", name, err))
		}

		if arr.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.apiKey is required", name))
		}
	}

	if cfg.Paths.MediaRoot == "" {
		errs = append(errs, errors.New("paths.mediaRoot is required"))
	}
	if cfg.Paths.TorrentsRoot == "" {
		errs = append(errs, errors.New("paths.torrentsRoot is required"))
	}
	if cfg.Paths.ArchiveRoot == "" {
		errs = append(errs, errors.New("paths.archiveRoot is required"))
	}

	if cfg.Move.PollInterval <= 0 {
		errs = append(errs, errors.New("move.pollInterval must be positive"))
	}
	if cfg.Move.MaxWait <= 0 {
		errs = append(errs, errors.New("move.maxWait must be positive"))
	}
	if cfg.Resolve.MaxWorkers <= 0 {
		errs = append(errs, errors.New("resolve.maxWorkers must be positive"))
	}

	for _, ratio := range []struct {
		key   string
		value float64
	}{
		{"matching.nameRatio", cfg.Matching.NameRatio},
		{"matching.titleRatio", cfg.Matching.TitleRatio},
		{"matching.catalogRatio", cfg.Matching.CatalogRatio},
	} {
		if ratio.value < 0 || ratio.value > 100 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 100", ratio.key))
		}
	}

	if cfg.Categories.TV == "" {
		errs = append(errs, errors.New("categories.tv is required"))
	}
	if cfg.Categories.Movies == "" {
		errs = append(errs, errors.New("categories.movies is required"))
	}
	if cfg.Categories.TV == cfg.Categories.Movies {
		errs = append(errs, errors.New("categories.tv and categories.movies must differ"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
