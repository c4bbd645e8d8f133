package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/credential-policy/internal/infra/config"
)

func settingsFor(t *testing.T, mr *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return config.RedisSettings{Host: mr.Host(), Port: port, KeyPrefix: "credpol"}
}

func TestNewClientPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), settingsFor(t, mr), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	mr.Close()
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail after server shutdown")
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := settingsFor(t, mr)
	mr.Close()

	if _, err := NewClient(context.Background(), settings, nil); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestOptionsEnableTLS(t *testing.T) {
	opts := Options(config.RedisSettings{Host: "cache", Port: 6380, TLSEnabled: true})
	if opts.Addr != "cache:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls config")
	}
}
