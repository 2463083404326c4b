package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.BroadcastInterval != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UnlockFeeCents != 50 || cfg.SpeedLimitKmh != 25 {
		t.Fatalf("unexpected tariff defaults: %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BROADCAST_INTERVAL", "250ms")
	t.Setenv("TARIFF_PER_KM_CENTS", "35")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("addr: %q", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.BroadcastInterval != 250*time.Millisecond || cfg.PerKmCents != 35 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if !cfg.RunMigrations || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestLoadServerConfigAggregatesErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("TARIFF_UNLOCK_FEE_CENTS", "-1")
	t.Setenv("NEARBY_LIMIT", "0")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "NEARBY_LIMIT", "tariff"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_GROUP", "g1")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KafkaGroup != "g1" || cfg.KafkaTopic != "journey-events" || cfg.RedisGeoKey != "vehicles_geo" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
