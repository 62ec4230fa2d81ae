package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./feedward.db" description:"Path to the SQLite database file"`

	// Application configuration
	FeedsDir      string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed subscription files"`
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl       string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feeds.example.com)"`
	WorkerCount   int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for harvest processing"`
	HarvestTick   int    `long:"harvest-tick" env:"HARVEST_TICK" default:"30" description:"Harvest scheduler interval in seconds"`
	ExportTick    int    `long:"export-tick" env:"EXPORT_TICK" default:"60" description:"Exporter due-scan interval in seconds"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for management endpoints (optional)"`
	PrerenderUrl  string `long:"prerender-url" env:"PRERENDER_URL" description:"Base URL of the headless prerender service (optional)"`
	DefaultLocale string `long:"default-locale" env:"DEFAULT_LOCALE" default:"en" description:"Fallback locale for free-text date parsing"`

	// Harvest tuning
	HarvestInterval      int `long:"harvest-interval" env:"HARVEST_INTERVAL" default:"600" description:"Interval between successful harvests in seconds"`
	MaxBackoff           int `long:"max-backoff" env:"MAX_BACKOFF" default:"86400" description:"Maximum failure backoff in seconds"`
	DisableThreshold     int `long:"disable-threshold" env:"DISABLE_THRESHOLD" default:"10" description:"Consecutive failures before a feed is disabled"`
	FetchConnectTimeout  int `long:"fetch-connect-timeout" env:"FETCH_CONNECT_TIMEOUT" default:"10" description:"HTTP connect timeout in seconds"`
	FetchTimeout         int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Total HTTP fetch time-to-live in seconds"`
	MaxRedirects         int `long:"max-redirects" env:"MAX_REDIRECTS" default:"5" description:"Maximum redirect hops per fetch"`
	MaxArticlesPerStream int `long:"max-articles" env:"MAX_ARTICLES" default:"500" description:"Retention cap per article stream"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Feedward/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:               raw.DBPath,
		FeedsDir:             raw.FeedsDir,
		Port:                 raw.Port,
		BaseUrl:              raw.BaseUrl,
		WorkerCount:          raw.WorkerCount,
		HarvestTick:          raw.HarvestTick,
		ExportTick:           raw.ExportTick,
		APIAccessKey:         raw.APIAccessKey,
		PrerenderUrl:         raw.PrerenderUrl,
		DefaultLocale:        raw.DefaultLocale,
		HarvestInterval:      raw.HarvestInterval,
		MaxBackoff:           raw.MaxBackoff,
		DisableThreshold:     raw.DisableThreshold,
		FetchConnectTimeout:  raw.FetchConnectTimeout,
		FetchTimeout:         raw.FetchTimeout,
		MaxRedirects:         raw.MaxRedirects,
		MaxArticlesPerStream: raw.MaxArticlesPerStream,
		UserAgent:            raw.UserAgent,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
