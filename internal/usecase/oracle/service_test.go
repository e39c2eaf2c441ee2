package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/ctk"
	domoracle "github.com/kailas-cloud/stquery/internal/domain/oracle"
)

// --- Mocks ---

// mockDecryptor answers Sign calls from a fixed sequence and Decrypt from decryptFn.
type mockDecryptor struct {
	signs     []bool
	signErr   error
	calls     int
	decryptFn func(v crypto.EncryptedValue) (int64, error)
}

func (m *mockDecryptor) Sign(_ crypto.EncryptedValue, _ bool) (bool, error) {
	if m.signErr != nil {
		return false, m.signErr
	}
	ok := m.signs[m.calls%len(m.signs)]
	m.calls++
	return ok, nil
}

func (m *mockDecryptor) Decrypt(v crypto.EncryptedValue) (int64, error) {
	if m.decryptFn != nil {
		return m.decryptFn(v)
	}
	return 7, nil
}

type mockCTKStore struct {
	saved map[string]domoracle.CTKDelivery
	err   error
}

func (m *mockCTKStore) Save(_ context.Context, d domoracle.CTKDelivery) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]domoracle.CTKDelivery)
	}
	m.saved[d.QueryID] = d
	return nil
}

func (m *mockCTKStore) Get(_ context.Context, id string) (domoracle.CTKDelivery, error) {
	d, ok := m.saved[id]
	if !ok {
		return domoracle.CTKDelivery{}, domain.ErrNotFound
	}
	return d, nil
}

func diffs(n int) []domoracle.Diff {
	return make([]domoracle.Diff, n)
}

// --- Tests ---

func TestCheckRange_AllHold(t *testing.T) {
	svc := New(&mockDecryptor{signs: []bool{true}}, nil)
	resp, err := svc.CheckRange(context.Background(), domoracle.CheckRangeRequest{RID: 1, Diffs: diffs(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.InRange {
		t.Error("expected in range")
	}
}

func TestCheckRange_OneFails(t *testing.T) {
	svc := New(&mockDecryptor{signs: []bool{true, false}}, nil)
	resp, err := svc.CheckRange(context.Background(), domoracle.CheckRangeRequest{RID: 1, Diffs: diffs(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.InRange {
		t.Error("expected out of range")
	}
}

func TestCheckRange_NoDiffs(t *testing.T) {
	svc := New(&mockDecryptor{signs: []bool{true}}, nil)
	_, err := svc.CheckRange(context.Background(), domoracle.CheckRangeRequest{RID: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCheckFullyCovered_KeyUnavailable(t *testing.T) {
	svc := New(&mockDecryptor{signErr: domain.ErrKeyUnavailable}, nil)
	_, err := svc.CheckFullyCovered(context.Background(), domoracle.FullyCoveredRequest{RID: 1, Diffs: diffs(6)})
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestVerifyPoints_PerPointDecisions(t *testing.T) {
	// 6 diffs per point: point 0 all true, point 1 fails on its first diff.
	signs := []bool{true, true, true, true, true, true, false}
	svc := New(&mockDecryptor{signs: signs}, nil)
	resp, err := svc.VerifyPoints(context.Background(), domoracle.VerifyPointsRequest{
		RID: 1,
		Points: []domoracle.PointCheck{
			{Index: 0, Diffs: diffs(6)},
			{Index: 1, Diffs: diffs(6)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if !resp.Results[0].InRange || resp.Results[1].InRange {
		t.Errorf("unexpected results: %+v", resp.Results)
	}
}

func TestVerifyPoints_UndecidedPointsCarryCode(t *testing.T) {
	tests := []struct {
		name    string
		signErr error
		code    string
		want    error
	}{
		{"corrupt ciphertext", domain.ErrDeserialization, domoracle.PointErrDeserialization, domain.ErrDeserialization},
		{"unexpected failure", errors.New("boom"), domoracle.PointErrInternal, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&mockDecryptor{signErr: tt.signErr}, nil)
			resp, err := svc.VerifyPoints(context.Background(), domoracle.VerifyPointsRequest{
				RID:    1,
				Points: []domoracle.PointCheck{{Index: 3, Diffs: diffs(6)}},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			r := resp.Results[0]
			if r.Index != 3 || r.InRange || r.Error != tt.code {
				t.Fatalf("unexpected result: %+v", r)
			}
			if r.Err() == nil {
				t.Fatal("expected undecided point to report an error")
			}
			if tt.want != nil && !errors.Is(r.Err(), tt.want) {
				t.Errorf("expected %v, got %v", tt.want, r.Err())
			}
		})
	}
}

func TestVerifyPoints_EmptyDiffsIsolated(t *testing.T) {
	svc := New(&mockDecryptor{signs: []bool{true}}, nil)
	resp, err := svc.VerifyPoints(context.Background(), domoracle.VerifyPointsRequest{
		RID: 1,
		Points: []domoracle.PointCheck{
			{Index: 0},
			{Index: 1, Diffs: diffs(6)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results[0].Error != domoracle.PointErrInvalid {
		t.Errorf("expected invalid code, got %+v", resp.Results[0])
	}
	if resp.Results[1].Error != "" || !resp.Results[1].InRange {
		t.Errorf("expected decided in-range point, got %+v", resp.Results[1])
	}
}

func TestVerifyPoints_KeyUnavailableFailsBatch(t *testing.T) {
	params, err := crypto.NewParameters()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	svc := New(crypto.NewDecryptor(params, nil), nil)

	_, err = svc.VerifyPoints(context.Background(), domoracle.VerifyPointsRequest{
		RID:    1,
		Points: []domoracle.PointCheck{{Index: 0, Diffs: diffs(6)}},
	})
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestDecrypt(t *testing.T) {
	svc := New(&mockDecryptor{}, nil)
	resp, err := svc.Decrypt(context.Background(), domoracle.DecryptRequest{
		RID:    1,
		Values: make([]crypto.EncryptedValue, 3),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Values) != 3 || resp.Values[2] != 7 {
		t.Errorf("unexpected values: %v", resp.Values)
	}

	_, err = svc.Decrypt(context.Background(), domoracle.DecryptRequest{RID: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestReceiveCTK_StoresAndReads(t *testing.T) {
	store := &mockCTKStore{}
	svc := New(&mockDecryptor{}, store)

	tree := ctk.Tree{"taxi": {1: {"t1": {Cipher: "c", Dates: []ctk.Date{{Key: "d1"}}}}}}
	if err := svc.ReceiveCTK(context.Background(), domoracle.CTKDelivery{RID: 1, QueryID: "q1", CTK: tree}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.CTK(context.Background(), "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CTK.Count() != 1 {
		t.Errorf("expected 1 date, got %d", got.CTK.Count())
	}
}

func TestReceiveCTK_MissingQueryID(t *testing.T) {
	svc := New(&mockDecryptor{}, &mockCTKStore{})
	if err := svc.ReceiveCTK(context.Background(), domoracle.CTKDelivery{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCTK_NoStore(t *testing.T) {
	svc := New(&mockDecryptor{}, nil)
	if _, err := svc.CTK(context.Background(), "q1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
