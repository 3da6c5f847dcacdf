package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Tiles   TilesConfig   `yaml:"tiles" mapstructure:"tiles"`
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures run-history persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TilesConfig configures AOI tiling for tiled sources.
type TilesConfig struct {
	Zoom     int `yaml:"zoom" mapstructure:"zoom"`
	MaxTiles int `yaml:"max_tiles" mapstructure:"max_tiles"`
}

// SourcesConfig holds per-source endpoints and tuning.
type SourcesConfig struct {
	Microsoft MicrosoftConfig `yaml:"microsoft" mapstructure:"microsoft"`
	Overpass  OverpassConfig  `yaml:"overpass" mapstructure:"overpass"`
	Natural   NaturalConfig   `yaml:"natural_earth" mapstructure:"natural_earth"`
}

// MicrosoftConfig configures the Microsoft building-footprints source.
type MicrosoftConfig struct {
	IndexURL    string `yaml:"index_url" mapstructure:"index_url"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	CacheSize   int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// OverpassConfig configures the OSM Overpass source.
type OverpassConfig struct {
	Endpoints  []string `yaml:"endpoints" mapstructure:"endpoints"`
	TimeoutSec int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NaturalConfig configures the Natural Earth boundaries source.
type NaturalConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// FetchConfig configures the shared HTTP fetcher.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int    `yaml:"retries" mapstructure:"retries"`
}

// ExportConfig configures output rendering.
type ExportConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AOIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "aoi-extract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("tiles.zoom", 9)
	v.SetDefault("tiles.max_tiles", 256)
	v.SetDefault("sources.microsoft.index_url", "https://minedbuildings.z5.web.core.windows.net/global-buildings/dataset-links.csv")
	v.SetDefault("sources.microsoft.concurrency", 8)
	v.SetDefault("sources.microsoft.cache_size", 64)
	v.SetDefault("sources.overpass.endpoints", []string{
		"https://overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
	})
	v.SetDefault("sources.overpass.timeout_secs", 90)
	v.SetDefault("sources.natural_earth.url", "https://naciscdn.org/naturalearth/110m/cultural/ne_110m_admin_0_countries.zip")
	v.SetDefault("sources.natural_earth.cache_dir", "/tmp/aoi-extract")
	v.SetDefault("fetch.user_agent", "aoi-extract/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("export.format", "geojson")
	v.SetDefault("export.dir", ".")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
