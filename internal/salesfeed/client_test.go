package salesfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetSales_OK(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/sales" {
			t.Errorf("path = %s, want /api/sales", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != "2024-03-01T00:00:00Z" {
			t.Errorf("since = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"date":"2024-03-01","order_number":"A-1","sku":"SKU1","channel":"Amazon","payment_method":"Card","price":"100.50"}]`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetSales(ctx, &since)
	if err != nil {
		t.Fatalf("GetSales error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if len(res) != 1 || res[0].OrderNumber != "A-1" || res[0].Price.String() != "100.5" {
		t.Fatalf("unexpected response: %+v", res)
	}

	sale, err := res[0].ToSale()
	if err != nil {
		t.Fatalf("ToSale error: %v", err)
	}
	if !sale.Date.Equal(since) || sale.Channel != "Amazon" {
		t.Fatalf("unexpected sale: %+v", sale)
	}
}

func TestGetSales_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetSales(ctx, nil)
	if err != nil {
		t.Fatalf("GetSales error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestGetSales_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, _, err := client.GetSales(ctx, nil)
	if err != nil {
		t.Fatalf("GetSales error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 204, got %+v", res)
	}
	if code != http.StatusNoContent {
		t.Fatalf("status code = %d, want %d", code, http.StatusNoContent)
	}
}

func TestGetSales_NotConfigured(t *testing.T) {
	var client *Client
	if _, _, _, err := client.GetSales(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestFeedSale_ToSaleRejectsBadDate(t *testing.T) {
	if _, err := (FeedSale{Date: "01/03/2024", OrderNumber: "A", SKU: "B"}).ToSale(); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
