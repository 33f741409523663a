package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/cache"
	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/layout"
)

func newTestAPI(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cacheClient := cache.NewClient(cache.Options{BaseURL: srv.URL, Timeout: time.Second}, cache.NewMemoryStore(0), zerolog.Nop())
	return NewClient(cacheClient, 2, zerolog.Nop()), srv
}

func addrString(fill byte) string {
	var a derive.Address
	for i := range a {
		a[i] = fill
	}
	return a.String()
}

func TestListVaultsFollowsCursor(t *testing.T) {
	authority := addrString(1)
	pages := map[string]vaultPage{
		"": {
			Items: []Vault{
				{Address: addrString(10), Authority: authority, VaultID: 1, Asset: addrString(9), Status: "active", Capacity: "100", TotalDeposited: "50", TotalClaimed: "0", MinDeposit: "1"},
				{Address: addrString(11), Authority: authority, VaultID: 2, Asset: addrString(9), Status: "funding", Capacity: "100", TotalDeposited: "10", TotalClaimed: "0", MinDeposit: "1"},
			},
			NextCursor: 2,
		},
		"2": {
			Items: []Vault{
				{Address: addrString(12), Authority: authority, VaultID: 3, Asset: addrString(9), Status: "matured", Capacity: "100", TotalDeposited: "100", TotalClaimed: "20", MinDeposit: "1", PayoutNumerator: "770", PayoutDenominator: "700"},
			},
		},
	}

	var requests int
	client, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/vaults" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("authority"); got != authority {
			t.Fatalf("authority param missing, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Fatalf("limit param = %q, want 2", got)
		}
		page := pages[r.URL.Query().Get("cursor")]
		w.Header().Set("ETag", fmt.Sprintf(`"c%s"`, r.URL.Query().Get("cursor")))
		_ = json.NewEncoder(w).Encode(page)
	}))

	vaults, err := client.ListVaults(context.Background(), authority)
	if err != nil {
		t.Fatalf("list vaults: %v", err)
	}
	if len(vaults) != 3 {
		t.Fatalf("expected 3 vaults across pages, got %d", len(vaults))
	}
	if requests != 2 {
		t.Fatalf("expected 2 page requests, got %d", requests)
	}
}

func TestListPositionsConditional(t *testing.T) {
	owner := addrString(3)
	var served int
	client, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"p1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		served++
		w.Header().Set("ETag", `"p1"`)
		_ = json.NewEncoder(w).Encode(positionPage{Items: []Position{
			{Address: addrString(20), Owner: owner, Vault: addrString(10), Deposited: "1000", Claimed: "0"},
		}})
	}))

	for i := 0; i < 3; i++ {
		positions, err := client.ListPositions(context.Background(), owner)
		if err != nil {
			t.Fatalf("list positions pass %d: %v", i, err)
		}
		if len(positions) != 1 || positions[0].Deposited != "1000" {
			t.Fatalf("unexpected positions: %+v", positions)
		}
	}
	if served != 1 {
		t.Fatalf("payload should be served once and revalidated after, served %d times", served)
	}
}

func TestVaultRecordConversion(t *testing.T) {
	dto := Vault{
		Address:           addrString(10),
		Authority:         addrString(1),
		VaultID:           7,
		Asset:             addrString(9),
		Status:            "matured",
		Capacity:          "1000000",
		TotalDeposited:    "500000",
		TotalClaimed:      "100",
		TargetYieldBps:    770,
		FundingCloseTS:    1_700_000_000,
		MaturityTS:        1_760_000_000,
		MinDeposit:        "1000",
		PayoutNumerator:   "770",
		PayoutDenominator: "700",
	}

	rec, addr, err := dto.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if addr.String() != dto.Address {
		t.Fatalf("address mismatch: %s", addr)
	}
	if rec.Status != layout.StatusMatured || !rec.PayoutSet || rec.PayoutNumerator != 770 || rec.PayoutDenominator != 700 {
		t.Fatalf("payout fields lost: %+v", rec)
	}
	if rec.TotalDeposited != 500000 {
		t.Fatalf("deposited = %d", rec.TotalDeposited)
	}
}

func TestVaultRecordRejectsMalformedAmount(t *testing.T) {
	dto := Vault{
		Address:   addrString(10),
		Authority: addrString(1),
		Asset:     addrString(9),
		Status:    "active",
		Capacity:  "1e6", // scientific notation is not a base-unit string
	}
	if _, _, err := dto.Record(); err == nil {
		t.Fatal("malformed amount must fail conversion, not default to zero")
	}
}

func TestPositionRecordConversion(t *testing.T) {
	dto := Position{
		Address:   addrString(20),
		Owner:     addrString(3),
		Vault:     addrString(10),
		Deposited: "18446744073709551615",
		Claimed:   "0",
	}
	rec, _, err := dto.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Deposited != 18446744073709551615 {
		t.Fatalf("deposited = %d", rec.Deposited)
	}
}
