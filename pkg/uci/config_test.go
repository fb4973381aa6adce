package uci

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitegate")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileNotPresent(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Debounce() != 2*time.Second || cfg.CacheTTL() != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CalibrationMinSamples != 5 || cfg.CalibrationSamples != 6 || cfg.BestOfN != 3 {
		t.Fatalf("unexpected calibration defaults: %+v", cfg)
	}
	if cfg.AcquireTimeout() != 10*time.Second || cfg.MaxCachedAge() != 5*time.Second {
		t.Fatalf("unexpected acquisition defaults: %+v", cfg)
	}
	if !cfg.HighAccuracy || cfg.Environment != "native" {
		t.Fatalf("unexpected environment defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMainAndSites(t *testing.T) {
	path := writeConfig(t, `
# sitegate configuration
config sitegate 'main'
	option log_level 'debug'
	option environment 'browser'
	option debounce_ms '1500'
	option high_accuracy '0'
	option tier_excellent_m '10'
	option tier_good_m '25'
	option tier_fair_m '40'
	option mqtt_enabled '1'
	option mqtt_topic_prefix 'acme/sitegate'

config site 'hq'
	option name 'Main Office'
	option address '1 Harbour Street'
	option latitude '59.3293'
	option longitude '18.0686'
	option radius_m '75'

config site 'depot'
	option latitude '59.3400'
	option longitude '18.0500'
	option radius_m '40'
	option active '0'
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Environment != "browser" || cfg.HighAccuracy {
		t.Errorf("main options not applied: %+v", cfg)
	}
	if cfg.Debounce() != 1500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Debounce())
	}
	if th := cfg.Thresholds(); th.ExcellentMeters != 10 || th.FairMeters != 40 {
		t.Errorf("thresholds = %+v", th)
	}
	if !cfg.MQTTEnabled || cfg.MQTTTopicPrefix != "acme/sitegate" {
		t.Errorf("mqtt options not applied: %+v", cfg)
	}

	if len(cfg.Sites) != 2 {
		t.Fatalf("sites = %+v", cfg.Sites)
	}
	hq := cfg.Sites[0]
	if hq.ID != "hq" || hq.Name != "Main Office" || hq.Address != "1 Harbour Street" || hq.BaseRadiusMeters != 75 || !hq.Active {
		t.Errorf("hq = %+v", hq)
	}
	if cfg.Sites[1].Name != "depot" || cfg.Sites[1].Active {
		t.Errorf("depot = %+v", cfg.Sites[1])
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"not a number", "config sitegate 'main'\n\toption debounce_ms 'soon'\n", "debounce_ms"},
		{"bad level", "config sitegate 'main'\n\toption log_level 'loud'\n", "log_level"},
		{"bad environment", "config sitegate 'main'\n\toption environment 'desktop'\n", "environment"},
		{"min above samples", "config sitegate 'main'\n\toption calibration_min_samples '8'\n", "calibration_samples"},
		{"tier order", "config sitegate 'main'\n\toption tier_good_m '60'\n", "threshold"},
		{"site radius", "config site 'x'\n\toption latitude '1'\n", "radius_m"},
		{"reserved site id", "config site 'all'\n\toption radius_m '50'\n", "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSplitLine(t *testing.T) {
	keyword, args := splitLine(`option name "North Yard 2"`)
	if keyword != "option" || len(args) != 2 || args[1] != "North Yard 2" {
		t.Errorf("splitLine = %q %q", keyword, args)
	}
	keyword, args = splitLine(`config sitegate`)
	if keyword != "config" || len(args) != 1 {
		t.Errorf("splitLine = %q %q", keyword, args)
	}
}
