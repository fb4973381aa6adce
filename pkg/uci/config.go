// Package uci loads sitegate configuration from UCI-style files
package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/quality"
	"github.com/sitegate/sitegate/pkg/sites"
)

// Config represents the sitegate configuration
type Config struct {
	// Main configuration
	LogLevel    string `json:"log_level"`
	Environment string `json:"environment"`
	DBPath      string `json:"db_path"`
	SitesFile   string `json:"sites_file"`

	SiteRefreshMin   int  `json:"site_refresh_min"`
	DebounceMS       int  `json:"debounce_ms"`
	CacheTTLS        int  `json:"cache_ttl_s"`
	AcquireTimeoutMS int  `json:"acquire_timeout_ms"`
	MaxCachedAgeMS   int  `json:"max_cached_age_ms"`
	HighAccuracy     bool `json:"high_accuracy"`

	// Calibration
	BestOfN               int     `json:"best_of_n"`
	BestOfWindowMS        int     `json:"best_of_window_ms"`
	CalibrationSamples    int     `json:"calibration_samples"`
	CalibrationMinSamples int     `json:"calibration_min_samples"`
	MaxCalibrationOffsetM float64 `json:"max_calibration_offset_m"`

	// Validation
	MaxAccuracyBonusM float64 `json:"max_accuracy_bonus_m"`
	TierExcellentM    float64 `json:"tier_excellent_m"`
	TierGoodM         float64 `json:"tier_good_m"`
	TierFairM         float64 `json:"tier_fair_m"`

	// Retry
	RetryAttempts int `json:"retry_attempts"`
	RetryDelayMS  int `json:"retry_delay_ms"`

	// Metrics
	MetricsListener string `json:"metrics_listener"`
	MetricsPort     int    `json:"metrics_port"`

	// Event publish
	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`

	GoogleAPIKey string `json:"google_api_key"`

	// Sites declared inline with `config site '<id>'` sections
	Sites []pkg.AuthorizedSite `json:"sites"`
}

// Default configuration values
const (
	DefaultLogLevel              = "info"
	DefaultEnvironment           = pkg.EnvNative
	DefaultDBPath                = "/var/lib/sitegate/calibration.db"
	DefaultSiteRefreshMin        = 30
	DefaultDebounceMS            = 2000
	DefaultCacheTTLS             = 30
	DefaultAcquireTimeoutMS      = 10000
	DefaultMaxCachedAgeMS        = 5000
	DefaultBestOfN               = 3
	DefaultBestOfWindowMS        = 6000
	DefaultCalibrationSamples    = 6
	DefaultCalibrationMinSamples = 5
	DefaultMaxCalibrationOffsetM = 500
	DefaultMaxAccuracyBonusM     = 100
	DefaultRetryAttempts         = 2
	DefaultRetryDelayMS          = 500
	DefaultMetricsListener       = "127.0.0.1"
	DefaultMetricsPort           = 9102
	DefaultMQTTPort              = 1883
	DefaultMQTTTopicPrefix       = "sitegate"
)

// LoadConfig loads and validates the sitegate configuration
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseUCI(path); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every option at its default
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	t := quality.DefaultThresholds()

	c.LogLevel = DefaultLogLevel
	c.Environment = DefaultEnvironment
	c.DBPath = DefaultDBPath
	c.SitesFile = ""
	c.SiteRefreshMin = DefaultSiteRefreshMin
	c.DebounceMS = DefaultDebounceMS
	c.CacheTTLS = DefaultCacheTTLS
	c.AcquireTimeoutMS = DefaultAcquireTimeoutMS
	c.MaxCachedAgeMS = DefaultMaxCachedAgeMS
	c.HighAccuracy = true
	c.BestOfN = DefaultBestOfN
	c.BestOfWindowMS = DefaultBestOfWindowMS
	c.CalibrationSamples = DefaultCalibrationSamples
	c.CalibrationMinSamples = DefaultCalibrationMinSamples
	c.MaxCalibrationOffsetM = DefaultMaxCalibrationOffsetM
	c.MaxAccuracyBonusM = DefaultMaxAccuracyBonusM
	c.TierExcellentM = t.ExcellentMeters
	c.TierGoodM = t.GoodMeters
	c.TierFairM = t.FairMeters
	c.RetryAttempts = DefaultRetryAttempts
	c.RetryDelayMS = DefaultRetryDelayMS
	c.MetricsListener = DefaultMetricsListener
	c.MetricsPort = DefaultMetricsPort
	c.MQTTEnabled = false
	c.MQTTBroker = "localhost"
	c.MQTTPort = DefaultMQTTPort
	c.MQTTTopicPrefix = DefaultMQTTTopicPrefix
}

// parseUCI parses the UCI configuration file
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sectionType, sectionName string
	var site *pkg.AuthorizedSite
	flushSite := func() {
		if site != nil {
			c.Sites = append(c.Sites, *site)
			site = nil
		}
	}

	for n, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, args := splitLine(line)
		switch keyword {
		case "config":
			flushSite()
			if len(args) < 1 {
				return fmt.Errorf("line %d: config without type", n+1)
			}
			sectionType = args[0]
			sectionName = ""
			if len(args) > 1 {
				sectionName = args[1]
			}
			if sectionType == "site" {
				site = &pkg.AuthorizedSite{ID: sectionName, Name: sectionName, Active: true}
			}
		case "option":
			if len(args) < 2 {
				return fmt.Errorf("line %d: option without value", n+1)
			}
			switch {
			case sectionType == "sitegate":
				if err := c.parseMainOption(args[0], args[1]); err != nil {
					return fmt.Errorf("line %d: %w", n+1, err)
				}
			case site != nil:
				if err := parseSiteOption(site, args[0], args[1]); err != nil {
					return fmt.Errorf("line %d: %w", n+1, err)
				}
			}
		}
	}
	flushSite()

	return nil
}

// splitLine splits a UCI line into its keyword and quoted arguments
func splitLine(line string) (string, []string) {
	var fields []string
	var cur strings.Builder
	var quote rune
	inField := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == ' ' || r == '\t':
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}

	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// parseMainOption parses a main configuration option
func (c *Config) parseMainOption(option, value string) error {
	var err error
	switch option {
	case "log_level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log_level %q", value)
		}
		c.LogLevel = value
	case "environment":
		if value != pkg.EnvNative && value != pkg.EnvBrowser {
			return fmt.Errorf("invalid environment %q", value)
		}
		c.Environment = value
	case "db_path":
		c.DBPath = value
	case "sites_file":
		c.SitesFile = value
	case "site_refresh_min":
		c.SiteRefreshMin, err = strconv.Atoi(value)
	case "debounce_ms":
		c.DebounceMS, err = strconv.Atoi(value)
	case "cache_ttl_s":
		c.CacheTTLS, err = strconv.Atoi(value)
	case "acquire_timeout_ms":
		c.AcquireTimeoutMS, err = strconv.Atoi(value)
	case "max_cached_age_ms":
		c.MaxCachedAgeMS, err = strconv.Atoi(value)
	case "high_accuracy":
		c.HighAccuracy = value == "1"
	case "best_of_n":
		c.BestOfN, err = strconv.Atoi(value)
	case "best_of_window_ms":
		c.BestOfWindowMS, err = strconv.Atoi(value)
	case "calibration_samples":
		c.CalibrationSamples, err = strconv.Atoi(value)
	case "calibration_min_samples":
		c.CalibrationMinSamples, err = strconv.Atoi(value)
	case "max_calibration_offset_m":
		c.MaxCalibrationOffsetM, err = strconv.ParseFloat(value, 64)
	case "max_accuracy_bonus_m":
		c.MaxAccuracyBonusM, err = strconv.ParseFloat(value, 64)
	case "tier_excellent_m":
		c.TierExcellentM, err = strconv.ParseFloat(value, 64)
	case "tier_good_m":
		c.TierGoodM, err = strconv.ParseFloat(value, 64)
	case "tier_fair_m":
		c.TierFairM, err = strconv.ParseFloat(value, 64)
	case "retry_attempts":
		c.RetryAttempts, err = strconv.Atoi(value)
	case "retry_delay_ms":
		c.RetryDelayMS, err = strconv.Atoi(value)
	case "metrics_listener":
		c.MetricsListener = value
	case "metrics_port":
		c.MetricsPort, err = strconv.Atoi(value)
	case "mqtt_enabled":
		c.MQTTEnabled = value == "1"
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_port":
		c.MQTTPort, err = strconv.Atoi(value)
	case "mqtt_topic_prefix":
		c.MQTTTopicPrefix = value
	case "google_api_key":
		c.GoogleAPIKey = value
	}
	if err != nil {
		return fmt.Errorf("option %s: %w", option, err)
	}
	return nil
}

// parseSiteOption parses an option of a site section
func parseSiteOption(site *pkg.AuthorizedSite, option, value string) error {
	var err error
	switch option {
	case "name":
		site.Name = value
	case "address":
		site.Address = value
	case "latitude":
		site.Center.Latitude, err = strconv.ParseFloat(value, 64)
	case "longitude":
		site.Center.Longitude, err = strconv.ParseFloat(value, 64)
	case "radius_m":
		site.BaseRadiusMeters, err = strconv.ParseFloat(value, 64)
	case "active":
		site.Active = value == "1"
	}
	if err != nil {
		return fmt.Errorf("site %s option %s: %w", site.ID, option, err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must not be negative")
	}
	if c.CacheTTLS <= 0 {
		return fmt.Errorf("cache_ttl_s must be positive")
	}
	if c.AcquireTimeoutMS <= 0 {
		return fmt.Errorf("acquire_timeout_ms must be positive")
	}
	if c.MaxCachedAgeMS < 0 {
		return fmt.Errorf("max_cached_age_ms must not be negative")
	}
	if c.SiteRefreshMin <= 0 {
		return fmt.Errorf("site_refresh_min must be positive")
	}
	if c.BestOfN < 1 || c.BestOfWindowMS <= 0 {
		return fmt.Errorf("best_of_n and best_of_window_ms must be positive")
	}
	if c.CalibrationMinSamples < 1 {
		return fmt.Errorf("calibration_min_samples must be at least 1")
	}
	if c.CalibrationSamples < c.CalibrationMinSamples {
		return fmt.Errorf("calibration_samples (%d) must be >= calibration_min_samples (%d)",
			c.CalibrationSamples, c.CalibrationMinSamples)
	}
	if c.MaxCalibrationOffsetM <= 0 {
		return fmt.Errorf("max_calibration_offset_m must be positive")
	}
	if c.MaxAccuracyBonusM < 0 {
		return fmt.Errorf("max_accuracy_bonus_m must not be negative")
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.RetryAttempts < 1 || c.RetryDelayMS < 0 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port out of range")
	}
	for _, s := range c.Sites {
		if err := sites.Check(s); err != nil {
			return err
		}
	}
	return nil
}

// Thresholds returns the configured quality tiers
func (c *Config) Thresholds() quality.Thresholds {
	return quality.Thresholds{
		ExcellentMeters: c.TierExcellentM,
		GoodMeters:      c.TierGoodM,
		FairMeters:      c.TierFairM,
	}
}

// Debounce returns the debounce window
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// CacheTTL returns the result cache lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLS) * time.Second
}

// AcquireTimeout returns the single-fix timeout
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// MaxCachedAge returns the oldest platform-cached fix accepted for validation
func (c *Config) MaxCachedAge() time.Duration {
	return time.Duration(c.MaxCachedAgeMS) * time.Millisecond
}

// BestOfWindow returns the window for one calibration best-of sample
func (c *Config) BestOfWindow() time.Duration {
	return time.Duration(c.BestOfWindowMS) * time.Millisecond
}

// SiteRefresh returns the site list refresh interval
func (c *Config) SiteRefresh() time.Duration {
	return time.Duration(c.SiteRefreshMin) * time.Minute
}

// RetryDelay returns the initial retry delay
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

func isValidLogLevel(level string) bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}
