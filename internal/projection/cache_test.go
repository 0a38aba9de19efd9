package projection

import (
	"testing"
	"time"
)

func TestExpiringGetSet(t *testing.T) {
	c := NewExpiring[string, int](time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache returned a value")
	}

	c.Set("a", 42)
	v, ok := c.Get("a")
	if !ok || v != 42 {
		t.Errorf("get after set: got (%d, %v), want (42, true)", v, ok)
	}
}

func TestExpiringTTL(t *testing.T) {
	c := NewExpiring[string, string](10 * time.Second)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")

	now = now.Add(9 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Error("entry expired before TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived past TTL")
	}
}

func TestExpiringSetRefreshesTTL(t *testing.T) {
	c := NewExpiring[string, int](10 * time.Second)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = now.Add(8 * time.Second)
	c.Set("k", 2)
	now = now.Add(8 * time.Second)

	v, ok := c.Get("k")
	if !ok || v != 2 {
		t.Errorf("refreshed entry: got (%d, %v), want (2, true)", v, ok)
	}
}

func TestExpiringInvalidate(t *testing.T) {
	c := NewExpiring[string, int](time.Minute)
	c.Set("k", 7)
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("invalidated entry still present")
	}
}
