package utils

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSlotScriptsCompile(t *testing.T) {
	if slotAcquireScript == nil || slotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestNewCallSlotsValidates(t *testing.T) {
	if _, err := NewCallSlots(nil, 1, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewCallSlots(rdb, 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewCallSlots(rdb, 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if got := slotKey("onboarding"); got != "outbound:slots:onboarding" {
		t.Fatalf("unexpected key %q", got)
	}
}
