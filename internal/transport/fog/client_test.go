package fog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

func testRun() domquery.PartitionRun {
	return domquery.PartitionRun{
		QueryID:   "q-1",
		Partition: "fog-2",
		Query:     domquery.Query{Keyword: "taxi", TimeSpan: 600, Algorithm: domquery.AlgorithmSSTP},
	}
}

func TestRun_PostsPartitionRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != PathSSTP {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if key, err := security.APIKeyFromHeader(r.Header); err != nil || key != "node-key" {
			t.Errorf("expected node api key, got %q (%v)", key, err)
		}
		var run domquery.PartitionRun
		if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if run.QueryID != "q-1" || run.Query.Keyword != "taxi" {
			t.Errorf("unexpected run %+v", run)
		}
		_ = json.NewEncoder(w).Encode(domquery.PartitionResult{
			CTK: ctk.Tree{"taxi": {1: {"t": {Cipher: "c", Dates: []ctk.Date{{Key: "d", Cipher: "dc"}}}}}},
			Candidates: 2,
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "node-key"})
	res, err := c.Run(context.Background(), srv.URL, testRun())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Partition != "fog-2" {
		t.Errorf("expected partition defaulted to fog-2, got %q", res.Partition)
	}
	if res.CTK.Count() != 1 || res.Candidates != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_RetriesThenUnreachable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 1, Timeout: time.Second})
	_, err := c.Run(context.Background(), srv.URL, testRun())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if errors.Is(err, domain.ErrOracleUnreachable) {
		t.Error("partition failures must not look like oracle failures")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestRun_RemoteDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(wire.ErrorResponse{Code: wire.CodeKeyUnavailable, Message: "no key"})
	}))
	defer srv.Close()

	_, err := New(Config{}).Run(context.Background(), srv.URL, testRun())
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestRun_BadEndpoint(t *testing.T) {
	_, err := New(Config{}).Run(context.Background(), "fog-without-scheme", testRun())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRun_ReusesCallerPerEndpoint(t *testing.T) {
	c := New(Config{})
	a, err := c.caller("http://fog-1:8080")
	if err != nil {
		t.Fatalf("caller: %v", err)
	}
	b, _ := c.caller("http://fog-1:8080")
	other, _ := c.caller("http://fog-2:8080")
	if a != b || a == other {
		t.Error("expected one caller per endpoint")
	}
}
