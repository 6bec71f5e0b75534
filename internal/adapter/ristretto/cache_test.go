package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/CoachForge/internal/port/cache/cachetest"
)

func TestCompliance(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	cachetest.RunComplianceTests(t, c)
}

func TestSetCopiesValue(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	v := []byte("abc")
	if err := c.Set(ctx, "k", v, time.Minute); err != nil {
		t.Fatal(err)
	}
	v[0] = 'x'
	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "abc" {
		t.Errorf("cached value changed with caller buffer: %q", got)
	}
}

func TestStats(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "definition:a", []byte("{}"), time.Minute); err != nil {
		t.Fatal(err)
	}
	_, _, _ = c.Get(ctx, "definition:a")
	_, _, _ = c.Get(ctx, "definition:missing")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v, want one hit and one miss", s)
	}
}
