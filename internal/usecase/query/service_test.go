package query

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/metrics"
)

func TestSubmit_EndToEnd(t *testing.T) {
	f := newFixture()
	svc := f.service(nil, Config{DeliverCTK: true})

	res, err := svc.Submit(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()

	if res.Status != domquery.StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if len(res.Trajectories) != 1 || res.Trajectories[0] != "8" {
		t.Errorf("expected [8], got %v", res.Trajectories)
	}
	if res.Dates != 5 {
		t.Errorf("expected 5 candidate dates, got %d", res.Dates)
	}

	stored, err := svc.Get(context.Background(), res.QueryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domquery.StatusCompleted || len(stored.Regions) != 2 {
		t.Errorf("unexpected stored request: %+v", stored)
	}

	if len(f.oracle.delivered) != 1 {
		t.Fatalf("expected one CTK delivery, got %d", len(f.oracle.delivered))
	}
	d := f.oracle.delivered[0]
	if d.QueryID != res.QueryID || d.CTK.Count() != 5 {
		t.Errorf("unexpected delivery: query %s, %d dates", d.QueryID, d.CTK.Count())
	}
}

func TestSubmit_TimeSpanAcrossMonthBoundary(t *testing.T) {
	lateJan31 := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC).Unix()
	earlyFeb1 := time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name string
		span int64
		want []string
	}{
		{"two hours apart fits three hour span", 3 * 3600, []string{"7", "8", "9"}},
		{"two hours apart exceeds one hour span", 3600, []string{"8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.points["west"] = []trajectory.Point{point(f.plain, 7, lateJan31, 20, 20)}
			f.store.points["east"] = append(f.store.points["east"], point(f.plain, 7, earlyFeb1, 100, 100))
			q := f.query()
			q.TimeSpan = tt.span

			res, err := f.service(nil, Config{}).Submit(context.Background(), q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(res.Trajectories, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, res.Trajectories)
			}
		})
	}
}

func TestSubmit_TraversalMatchesPruned(t *testing.T) {
	f := newFixture()
	q := f.query()
	q.Algorithm = domquery.AlgorithmTraversal

	res, err := f.service(nil, Config{}).Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Trajectories) != 1 || res.Trajectories[0] != "8" {
		t.Errorf("expected [8], got %v", res.Trajectories)
	}
}

func TestSubmit_ValidationCreatesNothing(t *testing.T) {
	f := newFixture()
	q := f.query()
	q.Keyword = ""

	_, err := f.service(nil, Config{}).Submit(context.Background(), q)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if f.requests.saves != 0 {
		t.Errorf("expected no state, got %d saves", f.requests.saves)
	}
}

func TestSubmit_NoPartitionsCompletesEmpty(t *testing.T) {
	f := newFixture()
	f.partitions.list = []partition.Partition{
		{ID: "p1", Keywords: []string{"bus"}, Status: partition.StatusOnline},
		{ID: "p2", Keywords: []string{"taxi"}, Status: partition.StatusOffline},
	}
	res, err := f.service(nil, Config{}).Submit(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domquery.StatusCompleted || len(res.Trajectories) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSubmit_AllPartitionsFail(t *testing.T) {
	f := newFixture()
	f.partitions.list = []partition.Partition{
		{ID: "remote-1", Endpoint: "http://fog-1", Keywords: []string{"taxi"}, Status: partition.StatusOnline},
	}
	remote := &mockRemote{runFn: func(context.Context, string, domquery.PartitionRun) (domquery.PartitionResult, error) {
		return domquery.PartitionResult{}, domain.ErrOracleUnreachable
	}}

	svc := f.service(remote, Config{})
	res, err := svc.Submit(context.Background(), f.query())
	if !errors.Is(err, domain.ErrStructural) {
		t.Fatalf("expected ErrStructural, got %v", err)
	}
	stored, _ := svc.Get(context.Background(), res.QueryID)
	if stored.Status != domquery.StatusFailed || stored.Error == "" {
		t.Errorf("expected failed with error, got %+v", stored)
	}
}

func TestSubmit_OneRemoteFailureTolerated(t *testing.T) {
	f := newFixture()
	f.partitions.list = append(f.partitions.list, partition.Partition{
		ID: "remote-1", Endpoint: "http://fog-1", Keywords: []string{"taxi"}, KeywordLoad: 10, Status: partition.StatusOnline,
	})
	var endpoint string
	remote := &mockRemote{runFn: func(_ context.Context, ep string, _ domquery.PartitionRun) (domquery.PartitionResult, error) {
		endpoint = ep
		return domquery.PartitionResult{}, errors.New("connection refused")
	}}

	res, err := f.service(remote, Config{}).Submit(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoint != "http://fog-1" {
		t.Errorf("expected remote called at http://fog-1, got %q", endpoint)
	}
	if len(res.Trajectories) != 1 {
		t.Errorf("expected local results kept, got %v", res.Trajectories)
	}
}

func TestSubmit_RemoteResultsMerged(t *testing.T) {
	f := newFixture()
	f.partitions.list = []partition.Partition{
		{ID: "remote-1", Endpoint: "http://fog-1", Keywords: []string{"taxi"}, Status: partition.StatusOnline},
	}
	traj := f.plain.MustEncrypt(42)
	d1, d2 := f.plain.MustEncrypt(day0+100), f.plain.MustEncrypt(day0+130)
	trajText, _ := f.plain.EncodeString(traj)
	d1Text, _ := f.plain.EncodeString(d1)
	d2Text, _ := f.plain.EncodeString(d2)

	remote := &mockRemote{runFn: func(_ context.Context, _ string, run domquery.PartitionRun) (domquery.PartitionResult, error) {
		if run.Partition != "remote-1" || len(run.Query.SubQueries) != 2 {
			t.Errorf("unexpected run: %+v", run)
		}
		return domquery.PartitionResult{Partition: "remote-1", CTK: ctk.Tree{"taxi": {
			1: {"t": {Cipher: trajText, Dates: []ctk.Date{{Key: "a", Cipher: d1Text}}}},
			2: {"t": {Cipher: trajText, Dates: []ctk.Date{{Key: "b", Cipher: d2Text}}}},
		}}}, nil
	}}

	res, err := f.service(remote, Config{}).Submit(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Trajectories) != 1 || res.Trajectories[0] != "42" {
		t.Errorf("expected [42], got %v", res.Trajectories)
	}
}

func TestSubmit_KeyUnavailableFails(t *testing.T) {
	f := newFixture()
	f.local = &mockLocal{runFn: func(context.Context, domquery.PartitionRun, event.Sink) (domquery.PartitionResult, error) {
		return domquery.PartitionResult{}, domain.ErrKeyUnavailable
	}}
	svc := f.service(nil, Config{})
	res, err := svc.Submit(context.Background(), f.query())
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
	stored, err := svc.Get(context.Background(), res.QueryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domquery.StatusFailed || stored.Reason != domquery.FailKeyUnavailable {
		t.Errorf("expected failed/key_unavailable, got %s/%s", stored.Status, stored.Reason)
	}
}

func TestSubmit_DecryptFailureIsConservative(t *testing.T) {
	f := newFixture()
	f.oracle.decryptErr = domain.ErrOracleTimeout
	res, err := f.service(nil, Config{}).Submit(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domquery.StatusCompleted || len(res.Trajectories) != 0 {
		t.Errorf("expected empty completed result, got %+v", res)
	}
}

func TestStartAndCancel(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	f.local = &mockLocal{runFn: func(ctx context.Context, _ domquery.PartitionRun, _ event.Sink) (domquery.PartitionResult, error) {
		close(started)
		<-ctx.Done()
		return domquery.PartitionResult{}, ctx.Err()
	}}
	svc := f.service(nil, Config{})
	cancelled := metrics.QueriesTotal.WithLabelValues(string(domquery.AlgorithmSSTP), string(domquery.StatusFailed),
		string(domquery.FailCancelled))
	before := testutil.ToFloat64(cancelled)

	req, err := svc.Start(context.Background(), f.query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != domquery.StatusPending {
		t.Errorf("expected pending snapshot, got %s", req.Status)
	}

	events, unsubscribe := svc.Bus().Subscribe(req.ID)
	defer unsubscribe()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("query never started")
	}
	if err := svc.Cancel(req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	svc.Wait()

	stored, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domquery.StatusFailed || stored.Reason != domquery.FailCancelled {
		t.Errorf("expected failed/cancelled after cancel, got %s/%s", stored.Status, stored.Reason)
	}
	if got := testutil.ToFloat64(cancelled) - before; got != 1 {
		t.Errorf("expected one cancelled query in metrics, got %v", got)
	}

	var last event.Event
	for e := range events {
		last = e
	}
	if last.Kind != event.KindQueryFailed {
		t.Errorf("expected stream to end with query_failed, got %q", last.Kind)
	}

	if err := svc.Cancel(req.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for finished query, got %v", err)
	}
}
