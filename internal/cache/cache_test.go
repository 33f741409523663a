package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(baseURL string, store Store) *Client {
	return NewClient(Options{BaseURL: baseURL, Timeout: time.Second}, store, zerolog.Nop())
}

// etagServer serves a fixed payload under a fixed validator and honours
// conditional requests.
func etagServer(t *testing.T, etag string, payload string, hits *int, served *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		*served++
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, payload)
	}))
}

func TestConditionalRoundTrip(t *testing.T) {
	var hits, served int
	srv := etagServer(t, `"v1"`, `{"value":42}`, &hits, &served)
	defer srv.Close()

	c := newTestClient(srv.URL, NewMemoryStore(0))
	params := map[string]string{"a": "1", "b": "2"}

	first, err := c.Get(context.Background(), "/vaults", params)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := c.Get(context.Background(), "/vaults", params)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("payloads differ across 200/304: %s vs %s", first, second)
	}
	if hits != 2 {
		t.Fatalf("expected 2 round trips, got %d", hits)
	}
	if served != 1 {
		t.Fatalf("expected exactly one full payload, got %d", served)
	}
}

func TestKeyOrderIndependent(t *testing.T) {
	a := Key("/vaults", map[string]string{"a": "1", "b": "2"})
	b := Key("/vaults", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Fatalf("normalised keys differ: %s vs %s", a, b)
	}

	other := Key("/vaults", map[string]string{"a": "1", "b": "3"})
	if a == other {
		t.Fatal("different params must not share a cache slot")
	}
}

func TestColdStart304RetriesOnce(t *testing.T) {
	var hits, served int
	srv := etagServer(t, `"v1"`, `{"value":1}`, &hits, &served)
	defer srv.Close()

	store := NewMemoryStore(0)
	c := newTestClient(srv.URL, store)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/vaults", nil); err != nil {
		t.Fatalf("warm up: %v", err)
	}

	// Persistent storage lost the payload but the validator survived.
	hollow, _ := json.Marshal(entry{ETag: `"v1"`})
	if err := store.Set(ctx, Key("/vaults", nil), hollow); err != nil {
		t.Fatalf("seed hollow entry: %v", err)
	}

	payload, err := c.Get(ctx, "/vaults", nil)
	if err != nil {
		t.Fatalf("cold-start get: %v", err)
	}
	if string(payload) != `{"value":1}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
	// warm-up 200, then 304, then unconditional 200.
	if hits != 3 || served != 2 {
		t.Fatalf("expected 3 hits / 2 served, got %d / %d", hits, served)
	}
}

func TestPersistent304IsConsistencyFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	store := NewMemoryStore(0)
	ctx := context.Background()
	hollow, _ := json.Marshal(entry{ETag: `"v1"`})
	if err := store.Set(ctx, Key("/vaults", nil), hollow); err != nil {
		t.Fatalf("seed hollow entry: %v", err)
	}

	c := newTestClient(srv.URL, store)
	_, err := c.Get(ctx, "/vaults", nil)
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("expected consistency fault, got %v", err)
	}
}

func TestNonSuccessStatusIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend melted", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewMemoryStore(0))
	_, err := c.Get(context.Background(), "/vaults", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusBadGateway {
		t.Fatalf("wrong status: %d", statusErr.Status)
	}
}

func TestAbortPropagates(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := newTestClient(srv.URL, NewMemoryStore(0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/vaults", nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("aborted request should fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not terminate the request promptly")
	}
}

func seedEntries(t *testing.T, store Store, n int) {
	t.Helper()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < n; i++ {
		raw, _ := json.Marshal(entry{
			ETag:      fmt.Sprintf(`"v%d"`, i),
			Payload:   json.RawMessage(`{}`),
			FetchedAt: base.Add(time.Duration(i) * time.Minute).UnixNano(),
		})
		if err := store.Set(context.Background(), fmt.Sprintf("/vaults?cursor=%d", i), raw); err != nil {
			t.Fatalf("seed entry %d: %v", i, err)
		}
	}
}

func TestEvictionDropsOldestQuarter(t *testing.T) {
	store := NewMemoryStore(0)
	c := newTestClient("http://unused", store)
	seedEntries(t, store, 8)

	c.evictOldest(context.Background())

	keys, _ := store.Keys(context.Background())
	if len(keys) != 6 {
		t.Fatalf("expected 6 survivors of 8, got %d", len(keys))
	}
	for _, key := range keys {
		if key == "/vaults?cursor=0" || key == "/vaults?cursor=1" {
			t.Fatalf("oldest entry %s survived eviction", key)
		}
	}
}

func TestEvictionRemovesAtLeastOne(t *testing.T) {
	store := NewMemoryStore(0)
	c := newTestClient("http://unused", store)
	seedEntries(t, store, 2)

	c.evictOldest(context.Background())

	keys, _ := store.Keys(context.Background())
	if len(keys) != 1 {
		t.Fatalf("expected 1 survivor of 2, got %d", len(keys))
	}
}

func TestQuotaRecoveryRetriesWrite(t *testing.T) {
	// Budget fits roughly three seeded entries, so the fourth write trips the
	// quota, evicts, and the retry succeeds.
	store := NewMemoryStore(220)
	c := newTestClient("http://unused", store)
	seedEntries(t, store, 3)

	c.persist(context.Background(), "/positions", entry{ETag: `"new"`, Payload: json.RawMessage(`{}`), FetchedAt: time.Now().UnixNano()})

	if _, ok, _ := store.Get(context.Background(), "/positions"); !ok {
		t.Fatal("write should succeed after eviction")
	}
	if _, ok, _ := store.Get(context.Background(), "/vaults?cursor=0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	store := NewMemoryStore(0)
	c := newTestClient("http://unused", store)
	seedEntries(t, store, 3)
	if err := store.Set(context.Background(), "/positions?owner=x", []byte(`{}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.InvalidateEndpoint(context.Background(), "/vaults"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	keys, _ := store.Keys(context.Background())
	if len(keys) != 1 || keys[0] != "/positions?owner=x" {
		t.Fatalf("unexpected survivors: %v", keys)
	}
}
