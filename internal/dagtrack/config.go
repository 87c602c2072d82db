package dagtrack

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds run configuration. Env var overrides use prefix DAGTRACK_
// (settings.use_distance_limit -> DAGTRACK_SETTINGS_USE_DISTANCE_LIMIT).
type Config struct {
	Geometry  string          `mapstructure:"geometry"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Log       LogConfig       `mapstructure:"log"`
	RayStats  RayStatsConfig  `mapstructure:"raystats"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type SettingsConfig struct {
	UseDistanceLimit bool `mapstructure:"use_distance_limit"`
	OverlapThickness Real `mapstructure:"overlap_thickness"`
	MaxBankDepth     int  `mapstructure:"max_bank_depth"`
	SourceCellMode   bool `mapstructure:"source_cell_mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Trace  bool   `mapstructure:"trace"`
}

// RayStatsConfig selects the ray statistics sink: "" (off), memory, csv,
// sqlite or pgx. DSN is a file path for csv and sqlite.
type RayStatsConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type TransportConfig struct {
	Particles int    `mapstructure:"particles"`
	Workers   int    `mapstructure:"workers"`
	Seed      int64  `mapstructure:"seed"`
	Source    []Real `mapstructure:"source"`
	MaxEvents int    `mapstructure:"max_events"`
	Detector  []Real `mapstructure:"detector"` // empty ⇒ no detector
	Huge      Real   `mapstructure:"huge"`
}

type MetricsConfig struct {
	Out string `mapstructure:"out"`
}

// LoadConfig reads defaults, then path (json/yaml/toml by extension) when
// given, then DAGTRACK_* environment overrides.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("geometry", "")
	v.SetDefault("settings.use_distance_limit", false)
	v.SetDefault("settings.overlap_thickness", 0.0)
	v.SetDefault("settings.max_bank_depth", DefaultMaxBankDepth)
	v.SetDefault("settings.source_cell_mode", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.trace", false)
	v.SetDefault("raystats.driver", "")
	v.SetDefault("raystats.dsn", "")
	v.SetDefault("transport.particles", DefaultParticles)
	v.SetDefault("transport.workers", 0)
	v.SetDefault("transport.seed", 0)
	v.SetDefault("transport.source", []Real{0, 0, 0})
	v.SetDefault("transport.max_events", DefaultMaxEvents)
	v.SetDefault("transport.detector", []Real{})
	v.SetDefault("transport.huge", Huge)
	v.SetDefault("metrics.out", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DAGTRACK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks ranges and fills zero values that have a meaningful default.
func (c *Config) Validate() error {
	if c.Settings.MaxBankDepth <= 0 {
		c.Settings.MaxBankDepth = DefaultMaxBankDepth
	}
	if c.Settings.OverlapThickness < 0 {
		return fmt.Errorf("settings.overlap_thickness must be >=0, got %g", c.Settings.OverlapThickness)
	}
	switch c.RayStats.Driver {
	case "", "memory", "csv":
	case "sqlite", "pgx":
		if c.RayStats.DSN == "" {
			return fmt.Errorf("raystats.driver %s needs raystats.dsn", c.RayStats.Driver)
		}
	default:
		return fmt.Errorf("unknown raystats.driver %q", c.RayStats.Driver)
	}
	if c.Transport.Particles < 0 {
		return fmt.Errorf("transport.particles must be >=0, got %d", c.Transport.Particles)
	}
	if c.Transport.MaxEvents <= 0 {
		c.Transport.MaxEvents = DefaultMaxEvents
	}
	if c.Transport.Huge <= 0 {
		c.Transport.Huge = Huge
	}
	if len(c.Transport.Source) == 0 {
		c.Transport.Source = []Real{0, 0, 0}
	}
	if len(c.Transport.Source) != 3 {
		return fmt.Errorf("transport.source needs 3 coordinates, got %d", len(c.Transport.Source))
	}
	if n := len(c.Transport.Detector); n != 0 && n != 3 {
		return fmt.Errorf("transport.detector needs 3 coordinates, got %d", n)
	}
	return nil
}

// BridgeSettings converts the settings section.
func (s SettingsConfig) BridgeSettings() Settings {
	return Settings{
		UseDistanceLimit: s.UseDistanceLimit,
		OverlapThickness: s.OverlapThickness,
		SourceCellMode:   s.SourceCellMode,
	}
}

func toPoint(xs []Real) Point3 { return Point3{xs[0], xs[1], xs[2]} }
