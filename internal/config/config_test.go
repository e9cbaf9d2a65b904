package config

import (
	"os"
	"reflect"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsApplyWithoutEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PROVIDER_GRACE_WINDOW_MINUTES")
	unsetEnvWithCleanup(t, "ACTIVATION_TTL_MINUTES")
	unsetEnvWithCleanup(t, "PROVIDER_PRIORITY")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.ProviderGraceWindowMinutes != 3 {
		t.Fatalf("expected default grace window of 3 minutes, got %d", cfg.ProviderGraceWindowMinutes)
	}
	if cfg.ActivationTTLMinutes != 20 {
		t.Fatalf("expected default activation TTL of 20 minutes, got %d", cfg.ActivationTTLMinutes)
	}
	want := []string{"smsactivate", "smshub", "fivesim", "onlinesim"}
	if got := cfg.ProviderPriorityList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected default priority %v, got %v", want, got)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NonPositiveTunablesCoerceToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PROVIDER_GRACE_WINDOW_MINUTES", "-5")
	setEnvWithCleanup(t, "SETTLE_RETRY_ATTEMPTS", "0")
	setEnvWithCleanup(t, "PURCHASE_RATE_LIMIT_PER_MINUTE", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ProviderGraceWindowMinutes != 3 {
		t.Fatalf("expected grace window coerced to 3, got %d", cfg.ProviderGraceWindowMinutes)
	}
	if cfg.SettleRetryAttempts != 3 {
		t.Fatalf("expected retry attempts coerced to 3, got %d", cfg.SettleRetryAttempts)
	}
	if cfg.PurchaseRateLimitPerMinute != 20 {
		t.Fatalf("expected purchase rate limit coerced to 20, got %d", cfg.PurchaseRateLimitPerMinute)
	}
}

func TestLoadConfig_ProviderPriorityListTrimsEntries(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PROVIDER_PRIORITY", " fivesim , smshub ,,smsactivate")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"fivesim", "smshub", "smsactivate"}
	if got := cfg.ProviderPriorityList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected priority %v, got %v", want, got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
