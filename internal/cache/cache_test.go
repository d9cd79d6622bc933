package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/model"
)

// exerciseCache runs the behaviour every backend must share.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	key := Key("contoso", model.DomainIdentity)

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get on empty cache = ok %v, err %v", ok, err)
	}

	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := c.Set(ctx, key, Entry{Payload: []byte(`[1]`), StoredAt: stored}, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after Set = ok %v, err %v", ok, err)
	}
	if string(e.Payload) != `[1]` {
		t.Errorf("Payload = %s, want [1]", e.Payload)
	}
	if !e.StoredAt.Equal(stored) {
		t.Errorf("StoredAt = %s, want %s", e.StoredAt, stored)
	}

	// Last writer wins.
	if err := c.Set(ctx, key, Entry{Payload: []byte(`[2]`), StoredAt: stored.Add(time.Minute)}, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, _, _ = c.Get(ctx, key)
	if string(e.Payload) != `[2]` {
		t.Errorf("Payload after overwrite = %s, want [2]", e.Payload)
	}

	// Keys are partitioned by tenant.
	if _, ok, _ := c.Get(ctx, Key("fabrikam", model.DomainIdentity)); ok {
		t.Error("entry leaked across tenants")
	}
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", Entry{Payload: []byte("x")}, time.Minute)
	now = now.Add(59 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Error("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("entry served after expiry")
	}
	if n := m.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after prune", m.Len())
	}
}

func TestMemory_CopiesPayload(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	m.Set(ctx, "k", Entry{Payload: buf}, time.Minute)
	buf[0] = 'z'

	e, _, _ := m.Get(ctx, "k")
	if string(e.Payload) != "abc" {
		t.Errorf("stored payload aliased caller buffer: %s", e.Payload)
	}
	e.Payload[0] = 'y'
	e2, _, _ := m.Get(ctx, "k")
	if string(e2.Payload) != "abc" {
		t.Errorf("returned payload aliased stored entry: %s", e2.Payload)
	}
}

func TestMemory_ConcurrentSameKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Set(ctx, "k", Entry{Payload: []byte(fmt.Sprintf(`{"n":%02d}`, i))}, time.Minute)
		}(i)
		go func() {
			defer wg.Done()
			if e, ok, _ := m.Get(ctx, "k"); ok && len(e.Payload) != len(`{"n":00}`) {
				t.Errorf("torn read: %q", e.Payload)
			}
		}()
	}
	wg.Wait()
}

func TestSQLite(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 0)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	exerciseCache(t, s)
}

func TestSQLite_ExpiryAndPrune(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 0)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "old", Entry{Payload: []byte("a"), StoredAt: now}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "new", Entry{Payload: []byte("b"), StoredAt: now}, time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "old"); ok {
		t.Error("expired entry served")
	}
	deleted, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune deleted %d, want 1", deleted)
	}
	if _, ok, _ := s.Get(ctx, "new"); !ok {
		t.Error("live entry pruned")
	}
}

func TestSQLite_PruneLoopStops(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "pl"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis(t *testing.T) {
	r, _ := newTestRedis(t)
	exerciseCache(t, r)
}

func TestRedis_TTLAndPrefix(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	key := Key("contoso", model.DomainThreats)

	if err := r.Set(ctx, key, Entry{Payload: []byte("x")}, 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("pl:" + key) {
		t.Errorf("key not stored under prefix; keys = %v", mr.Keys())
	}
	mr.FastForward(16 * time.Minute)
	if _, ok, _ := r.Get(ctx, key); ok {
		t.Error("entry served after redis TTL")
	}
}

func TestInvalidateTenant(t *testing.T) {
	ctx := context.Background()
	backends := map[string]func(t *testing.T) Cache{
		"memory": func(t *testing.T) Cache { return NewMemory() },
		"sqlite": func(t *testing.T) Cache {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), 0)
			if err != nil {
				t.Fatalf("NewSQLite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func(t *testing.T) Cache {
			r, _ := newTestRedis(t)
			return r
		},
	}

	tests := []struct {
		name    string
		target  string
		tenants []string
		want    int
	}{
		{"plain", "contoso", []string{"contoso", "fabrikam"}, len(model.Domains())},
		{"star", "a*", []string{"a*", "ab", "abc"}, len(model.Domains())},
		{"question mark", "a?", []string{"a?", "ab"}, len(model.Domains())},
		{"bracket", "[ab]", []string{"[ab]", "a", "b"}, len(model.Domains())},
		{"backslash", `a\`, []string{`a\`, "ab"}, len(model.Domains())},
		{"prefix of another tenant", "a", []string{"a", "a|b", "ab"}, len(model.Domains())},
		{"nothing cached", "nobody", []string{"contoso"}, 0},
	}
	for name, open := range backends {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				c := open(t)
				for _, tenant := range tt.tenants {
					for _, d := range model.Domains() {
						if err := c.Set(ctx, Key(tenant, d), Entry{Payload: []byte(tenant)}, time.Hour); err != nil {
							t.Fatal(err)
						}
					}
				}

				n, err := c.(Invalidator).InvalidateTenant(ctx, tt.target)
				if err != nil {
					t.Fatalf("InvalidateTenant: %v", err)
				}
				if n != tt.want {
					t.Errorf("deleted %d keys, want %d", n, tt.want)
				}
				for _, tenant := range tt.tenants {
					_, ok, _ := c.Get(ctx, Key(tenant, model.DomainIdentity))
					if tenant == tt.target && ok {
						t.Errorf("%q still cached", tenant)
					}
					if tenant != tt.target && !ok {
						t.Errorf("%q deleted by invalidating %q", tenant, tt.target)
					}
				}
			})
		}
	}
}

func TestRedis_ConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("NewRedis succeeded against a closed port")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, config.CacheConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Errorf("Open(memory) = %T", c)
	}

	c, err = Open(ctx, config.CacheConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	c.Close()

	mr := miniredis.RunT(t)
	c, err = Open(ctx, config.CacheConfig{Backend: "redis", RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("Open(redis): %v", err)
	}
	c.Close()

	if _, err := Open(ctx, config.CacheConfig{Backend: "memcached"}); err == nil {
		t.Error("Open accepted unknown backend")
	}
}
