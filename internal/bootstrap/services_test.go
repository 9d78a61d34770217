package bootstrap

import (
	"testing"

	"github.com/waiterbildung/course-advisor/config"
)

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeScheduler,
				config.ServiceModeScrapeRunner,
				config.ServiceModeEmbedRunner,
				config.ServiceModeNotifyRunner,
				config.ServiceModeReaper,
			},
			want: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "scheduler,reaper"}

	names := GetEnabledServices(cfg)
	if len(names) != 2 {
		t.Fatalf("expected 2 enabled services, got %v", names)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	if !seen["scheduler"] || !seen["reaper"] {
		t.Fatalf("expected scheduler and reaper, got %v", names)
	}

	if got := GetEnabledServices(&config.AppConfig{Services: "bogus"}); len(got) != 0 {
		t.Fatalf("expected no services for invalid config, got %v", got)
	}

	if got := GetEnabledServices(nil); len(got) != 0 {
		t.Fatalf("expected no services for nil config, got %v", got)
	}
}

func TestValidateServiceConfig(t *testing.T) {
	if err := ValidateServiceConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "bogus"}); err == nil {
		t.Fatal("expected error for invalid service name")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "scheduler"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
