// Package cachetest holds the behaviour every cache adapter must share.
package cachetest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Strob0t/CoachForge/internal/port/cache"
)

// RunComplianceTests exercises c with the key shapes the engine uses
// (definition reads and draft tokens) and with binary values.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	roundTrips := []struct {
		name  string
		key   string
		value []byte
	}{
		{"definition key", "definition:plan:generate", []byte(`{"agent_id":"plan:generate"}`)},
		{"draft key", "draft:3f2a9c1e8d7b4a60", []byte(`{"goal":"5k"}`)},
		{"binary value", "bin", []byte{0x00, 0xff, '{', '}'}},
		{"spaces and slashes", "draft:a b/c", []byte("v")},
	}
	for _, tt := range roundTrips {
		t.Run("RoundTrip/"+tt.name, func(t *testing.T) {
			if err := c.Set(ctx, tt.key, tt.value, time.Minute); err != nil {
				t.Fatal(err)
			}
			got, found, err := c.Get(ctx, tt.key)
			if err != nil || !found {
				t.Fatalf("expected hit, got found=%v err=%v", found, err)
			}
			if !bytes.Equal(got, tt.value) {
				t.Fatalf("value = %q, want %q", got, tt.value)
			}
		})
	}

	t.Run("Miss", func(t *testing.T) {
		if _, found, err := c.Get(ctx, "definition:never-stored"); err != nil || found {
			t.Fatalf("expected a clean miss, got found=%v err=%v", found, err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "draft:ow", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "draft:ow", []byte("v2"), time.Minute)
		got, found, err := c.Get(ctx, "draft:ow")
		if err != nil || !found || string(got) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q found=%v err=%v", got, found, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "draft:del", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "draft:del"); err != nil {
			t.Fatal(err)
		}
		if _, found, err := c.Get(ctx, "draft:del"); err != nil || found {
			t.Fatalf("expected miss after delete, got found=%v err=%v", found, err)
		}
		if err := c.Delete(ctx, "draft:never-existed"); err != nil {
			t.Fatalf("deleting a missing key must succeed: %v", err)
		}
	})
}
