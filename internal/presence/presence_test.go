package presence

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"relaycast/internal/testsupport/redisstub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startAnnouncer(t *testing.T, opts redisstub.Options, cfg RedisConfig) (*redisstub.Server, *RedisAnnouncer) {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	cfg.Addr = stub.Addr()
	cfg.Logger = testLogger()
	announcer, err := NewRedis(cfg)
	if err != nil {
		t.Fatalf("connect announcer: %v", err)
	}
	t.Cleanup(func() { announcer.Close() })
	return stub, announcer
}

func TestRedisAnnouncerTracksLiveSet(t *testing.T) {
	stub, announcer := startAnnouncer(t, redisstub.Options{}, RedisConfig{
		SetKey:  "test:live",
		Channel: "test:streams",
	})
	ctx := context.Background()

	if err := announcer.StreamStarted(ctx, "stream-1"); err != nil {
		t.Fatalf("stream started: %v", err)
	}
	if members := stub.Members("test:live"); len(members) != 1 || members[0] != "stream-1" {
		t.Fatalf("unexpected live set %v", members)
	}

	if err := announcer.StreamStopped(ctx, "stream-1"); err != nil {
		t.Fatalf("stream stopped: %v", err)
	}
	if members := stub.Members("test:live"); len(members) != 0 {
		t.Fatalf("expected empty live set, got %v", members)
	}

	published := stub.Published()
	if len(published) != 2 {
		t.Fatalf("expected 2 events, got %d", len(published))
	}
	var first event
	if err := json.Unmarshal([]byte(published[0].Payload), &first); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if published[0].Channel != "test:streams" || first.Event != "started" || first.StreamID != "stream-1" {
		t.Fatalf("unexpected first event %+v on %s", first, published[0].Channel)
	}
	var second event
	if err := json.Unmarshal([]byte(published[1].Payload), &second); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if second.Event != "stopped" || second.StreamID != "stream-1" {
		t.Fatalf("unexpected second event %+v", second)
	}
}

func TestRedisAnnouncerAuthenticates(t *testing.T) {
	stub, announcer := startAnnouncer(t, redisstub.Options{Password: "sekret"}, RedisConfig{
		Password: "sekret",
	})
	if err := announcer.StreamStarted(context.Background(), "stream-2"); err != nil {
		t.Fatalf("stream started: %v", err)
	}
	if members := stub.Members("relaycast:live"); len(members) != 1 {
		t.Fatalf("unexpected live set %v", members)
	}
}

func TestNewRedisRequiresAddr(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Fatal("expected error without an address")
	}
}

func TestNoopAnnouncer(t *testing.T) {
	var announcer Announcer = Noop{}
	if err := announcer.StreamStarted(context.Background(), "x"); err != nil {
		t.Fatalf("noop start: %v", err)
	}
	if err := announcer.StreamStopped(context.Background(), "x"); err != nil {
		t.Fatalf("noop stop: %v", err)
	}
	if err := announcer.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}
