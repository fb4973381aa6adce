package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/calibration"
	"github.com/sitegate/sitegate/pkg/gps"
	"github.com/sitegate/sitegate/pkg/logx"
	"github.com/sitegate/sitegate/pkg/metrics"
	"github.com/sitegate/sitegate/pkg/mqtt"
	"github.com/sitegate/sitegate/pkg/retry"
	"github.com/sitegate/sitegate/pkg/session"
	"github.com/sitegate/sitegate/pkg/sites"
	"github.com/sitegate/sitegate/pkg/telem"
	"github.com/sitegate/sitegate/pkg/uci"
	"github.com/sitegate/sitegate/pkg/validator"
)

const (
	version = "1.0.0-dev"
	appName = "sitegate"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/config/sitegate", "UCI config file path")
		logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
		useSyslog   = flag.Bool("syslog", false, "Mirror logs to syslog")
		scope       = flag.String("scope", "", "Calibration scope (device or user id), defaults to hostname")
		lat         = flag.Float64("lat", 0, "Fixed latitude for the position source")
		lon         = flag.Float64("lon", 0, "Fixed longitude for the position source")
		accuracy    = flag.Float64("accuracy", 0, "Fixed accuracy in meters; 0 disables the fixed source")
		siteID      = flag.String("site", pkg.AllSites, "Site id for clear")
		previous    = flag.String("previous-site", "", "Site id of today's last registration")
		interval    = flag.Duration("interval", time.Minute, "Validation interval for serve-metrics")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] validate|calibrate|clear|debug|serve-metrics\n", appName)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	config, err := uci.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	effectiveLogLevel := config.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewWithOutput(effectiveLogLevel, os.Stderr)
	if *useSyslog {
		if err := logger.EnableSyslog(appName); err != nil {
			logger.Warn("syslog unavailable", "error", err)
		}
	}

	logger.Info("starting sitegate",
		"version", version,
		"config", *configFile,
		"command", command,
		"environment", config.Environment,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, config, logger, appOptions{
		scope:    *scope,
		fixed:    pkg.GeoPoint{Latitude: *lat, Longitude: *lon},
		accuracy: *accuracy,
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if *previous != "" {
		list, err := app.sites.Sites(ctx)
		if err == nil {
			if site, err := sites.Find(list, *previous); err == nil {
				app.controller.SetLastRegistration(&pkg.Registration{
					SiteID:   site.ID,
					SiteName: site.Name,
					Point:    site.Center,
				})
			} else {
				logger.Warn("unknown previous site", "site", *previous)
			}
		}
	}

	code := app.execute(ctx, command, *siteID, *interval)
	cancel()
	os.Exit(code)
}

type appOptions struct {
	scope    string
	fixed    pkg.GeoPoint
	accuracy float64
}

type app struct {
	config     *uci.Config
	logger     *logx.Logger
	backend    *calibration.SQLiteBackend
	sites      sites.Source
	recorder   *metrics.Recorder
	events     *mqtt.Client
	journal    *telem.Journal
	controller *session.Controller
}

func newApp(ctx context.Context, config *uci.Config, logger *logx.Logger, opts appOptions) (*app, error) {
	a := &app{
		config:   config,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		journal:  telem.NewJournal(telem.Config{}),
	}

	scope := opts.scope
	if scope == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "default"
		}
		scope = host
	}
	backend, err := calibration.NewSQLiteBackend(config.DBPath, scope)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	store := calibration.NewStore(calibration.Config{
		MinSamples:      config.CalibrationMinSamples,
		MaxOffsetMeters: config.MaxCalibrationOffsetM,
	}, backend, logger)
	if err := store.Load(ctx); err != nil {
		a.close()
		return nil, err
	}

	var upstream sites.Source = sites.Static(config.Sites)
	if config.SitesFile != "" {
		upstream = sites.FileLoader{Path: config.SitesFile}
	}
	a.sites = sites.NewCachedSource(upstream, config.SiteRefresh(), logger)

	chain, err := buildProviderChain(config, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Debug("location sources ready", "count", chain.Len())
	acquirer := gps.NewAcquirer(chain, gps.AcquirerConfig{
		HighAccuracy: config.HighAccuracy && config.Environment != pkg.EnvBrowser,
		Timeout:      config.AcquireTimeout(),
		MaxCachedAge: config.MaxCachedAge(),
	}, logger)

	a.events = mqtt.NewClient(&mqtt.Config{
		Broker:      config.MQTTBroker,
		Port:        config.MQTTPort,
		ClientID:    fmt.Sprintf("%s-%s", appName, scope),
		TopicPrefix: config.MQTTTopicPrefix,
		QoS:         1,
		Enabled:     config.MQTTEnabled,
	}, logger)
	if err := a.events.Connect(); err != nil {
		logger.Warn("event publishing disabled", "error", err)
	}

	a.controller, err = session.NewController(session.Config{
		Environment:        config.Environment,
		Debounce:           config.Debounce(),
		CacheTTL:           config.CacheTTL(),
		AcquireTimeout:     config.AcquireTimeout(),
		CalibrationSamples: config.CalibrationSamples,
		BestOfN:            config.BestOfN,
		BestOfWindow:       config.BestOfWindow(),
		Retry: retry.Config{
			MaxAttempts:   config.RetryAttempts,
			InitialDelay:  config.RetryDelay(),
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
		},
	}, session.Dependencies{
		Acquirer: acquirer,
		Store:    store,
		Sites:    a.sites,
		Validator: validator.New(validator.Config{
			MaxAccuracyBonusMeters: config.MaxAccuracyBonusM,
			MinCalibrationSamples:  config.CalibrationMinSamples,
			Thresholds:             config.Thresholds(),
		}),
	},
		session.WithLogger(logger),
		session.WithMetrics(a.recorder),
		session.WithEventSink(telem.Fanout{a.events, a.journal}),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func buildProviderChain(config *uci.Config, opts appOptions) (*gps.Chain, error) {
	var providers []gps.NamedProvider
	if opts.accuracy > 0 {
		providers = append(providers, gps.NamedProvider{
			Name:     "fixed",
			Provider: &gps.FixedProvider{Point: opts.fixed, AccuracyMeters: opts.accuracy},
		})
	}
	if config.GoogleAPIKey != "" {
		google, err := gps.NewGoogleProvider(config.GoogleAPIKey, config.Environment == pkg.EnvBrowser)
		if err != nil {
			return nil, err
		}
		providers = append(providers, gps.NamedProvider{Name: "google", Provider: google})
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no location source: pass -lat/-lon/-accuracy or set google_api_key")
	}
	return gps.NewChain(providers...), nil
}

// execute runs command, releases the app and returns the process exit code
func (a *app) execute(ctx context.Context, command, siteID string, interval time.Duration) int {
	defer a.close()

	if err := a.run(ctx, command, siteID, interval); err != nil {
		a.logger.Error("command failed", "command", command, "error", err)
		fmt.Fprintln(os.Stderr, pkg.UserMessage(err))
		return 1
	}
	return 0
}

func (a *app) run(ctx context.Context, command, siteID string, interval time.Duration) error {
	switch command {
	case "validate":
		result, err := a.controller.ValidateLocation(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	case "calibrate":
		record, err := a.controller.CalibrateForCurrentLocation(ctx)
		if err != nil {
			return err
		}
		return printJSON(record)
	case "clear":
		if err := a.controller.ClearCalibration(ctx, siteID); err != nil {
			return err
		}
		return printJSON(a.controller.Debug())
	case "debug":
		return printJSON(a.controller.Debug())
	case "serve-metrics":
		return a.serveMetrics(ctx, interval)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// serveMetrics validates on a fixed interval and exposes metrics until ctx ends
func (a *app) serveMetrics(ctx context.Context, interval time.Duration) error {
	server := metrics.NewServer(a.recorder, a.logger)
	server.Mount("/events", a.journal)
	if err := server.Start(a.config.MetricsListener, a.config.MetricsPort); err != nil {
		return err
	}
	defer server.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.controller.RefreshLocation(ctx); err != nil {
			a.logger.Warn("periodic validation failed", "error", err)
		}
		a.journal.Cleanup()
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) close() {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.events != nil {
		a.events.Disconnect()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("failed to close calibration database", "error", err)
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
