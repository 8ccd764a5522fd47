package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stocktake/stocktake/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second)
}

func TestFetchByIdNotFoundIsNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	item, err := client.Items().FetchById(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("not-found must not be an error, got %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func TestFetchByIdFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/it-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(model.Item{ID: "it-1", Name: "Flour", SKU: "FL-1"})
	})

	item, err := client.Items().FetchById(context.Background(), "it-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if item == nil || item.SKU != "FL-1" {
		t.Fatalf("fetch returned %+v", item)
	}
}

func TestCreateReturnsServerCopy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in model.Item
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		// Server assigns its own id.
		in.ID = "srv-1"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})

	created, err := client.Items().Create(context.Background(), model.Item{ID: "cli-1", Name: "Flour", SKU: "FL-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "srv-1" {
		t.Errorf("server id not surfaced: %q", created.ID)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusNotFound, IsNotFound, "not found"},
		{http.StatusConflict, IsDuplicate, "duplicate"},
		{http.StatusInternalServerError, IsTransient, "5xx transient"},
		{http.StatusTooManyRequests, IsTransient, "429 transient"},
		{http.StatusUnprocessableEntity, IsPermanent, "validation permanent"},
		{http.StatusBadRequest, IsPermanent, "400 permanent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.Items().Update(context.Background(), "it-1", model.Item{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("status %d classified wrong: %v", tt.status, err)
			}
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	blocked := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	})
	defer close(blocked)
	client.timeout = 50 * time.Millisecond

	_, err := client.Items().FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("timeout must classify as transient, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if err := client.Items().Remove(context.Background(), "already-gone"); err != nil {
		t.Fatalf("removing an absent record must succeed, got %v", err)
	}
}

func TestPing(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	down := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if err := down.Ping(context.Background()); !IsTransient(err) {
		t.Errorf("unreachable backend must be transient, got %v", err)
	}
}
