package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"relaycast/internal/config"
	"relaycast/internal/presence"
	"relaycast/internal/testsupport/redisstub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyFlagsOverridesEnvironmentValues(t *testing.T) {
	cfg := config.Config{
		Addr:            ":3002",
		OutputRoot:      "./streams",
		BackendURL:      "http://env.backend",
		FrontendOrigins: []string{"https://env.origin"},
		LogLevel:        "info",
	}
	applyFlags(&cfg, flagOverrides{
		addr:           ":4000",
		backendURL:     "http://flag.backend",
		frontendOrigin: "https://a.origin, https://b.origin",
		logLevel:       "debug",
	})
	if cfg.Addr != ":4000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.BackendURL != "http://flag.backend" {
		t.Fatalf("unexpected backend URL %q", cfg.BackendURL)
	}
	if cfg.OutputRoot != "./streams" {
		t.Fatalf("output root should keep environment value, got %q", cfg.OutputRoot)
	}
	if len(cfg.FrontendOrigins) != 2 || cfg.FrontendOrigins[1] != "https://b.origin" {
		t.Fatalf("unexpected origins %v", cfg.FrontendOrigins)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestConfigureAnnouncerDefaultsToNoop(t *testing.T) {
	announcer, err := configureAnnouncer(config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("configure announcer: %v", err)
	}
	if _, ok := announcer.(presence.Noop); !ok {
		t.Fatalf("expected noop announcer, got %T", announcer)
	}
}

func TestConfigureAnnouncerUsesRedisWhenConfigured(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer stub.Close()

	cfg := config.Config{}
	cfg.Redis.Addr = stub.Addr()
	cfg.Redis.SetKey = "test:live"

	announcer, err := configureAnnouncer(cfg, testLogger())
	if err != nil {
		t.Fatalf("configure announcer: %v", err)
	}
	defer announcer.Close()

	if err := announcer.StreamStarted(context.Background(), "stream-1"); err != nil {
		t.Fatalf("stream started: %v", err)
	}
	if members := stub.Members("test:live"); len(members) != 1 || members[0] != "stream-1" {
		t.Fatalf("unexpected live set %v", members)
	}
}
