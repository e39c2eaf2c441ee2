package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/stquery/internal/domain/octree"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/usecase/ingest"
	"github.com/kailas-cloud/stquery/pkg/client"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env", "test"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeJSONFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func plainQuery() ingest.PlainQuery {
	return ingest.PlainQuery{
		Keyword:  "taxi",
		TimeSpan: 600,
		Ranges: []ingest.PlainRange{{
			MortonMin: []int{1}, MortonMax: []int{2},
			GridMin: []int64{0, 0, 0}, GridMax: []int64{3, 3, 3},
			LatMin: 39.8, LatMax: 40.0, LonMin: 116.2, LonMax: 116.5,
			TimeMin: 0, TimeMax: 7200,
		}},
	}
}

// The BGV flow shares one key pair across subtests; key generation dominates the runtime.
func TestKeygenEncryptLoad(t *testing.T) {
	dir := t.TempDir()
	keys := filepath.Join(dir, "keys")

	out, err := execute(t, "keygen", "--out", keys)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(keys, "bgv.pk"))
	assert.FileExists(t, filepath.Join(keys, "bgv.sk"))

	t.Run("encrypt-query", func(t *testing.T) {
		in := writeJSONFile(t, dir, "plain.json", plainQuery())
		encPath := filepath.Join(dir, "query.json")

		_, err := execute(t, "encrypt-query", in, "--public-key", filepath.Join(keys, "bgv.pk"), "-o", encPath)
		require.NoError(t, err)

		data, err := os.ReadFile(encPath)
		require.NoError(t, err)
		var q domquery.Query
		require.NoError(t, json.Unmarshal(data, &q))
		assert.Equal(t, "taxi", q.Keyword)
		assert.Equal(t, domquery.AlgorithmSSTP, q.Algorithm)
		require.Len(t, q.SubQueries, 1)
		assert.Equal(t, 1, q.SubQueries[0].RID)
		assert.NoError(t, q.Validate())
	})

	t.Run("encrypt-query rejects inverted bounds", func(t *testing.T) {
		pq := plainQuery()
		pq.Ranges[0].TimeMin, pq.Ranges[0].TimeMax = 7200, 0
		in := writeJSONFile(t, dir, "bad.json", pq)

		_, err := execute(t, "encrypt-query", in, "--public-key", filepath.Join(keys, "bgv.pk"))
		assert.Error(t, err)
	})

	t.Run("load", func(t *testing.T) {
		cfgPath := filepath.Join(dir, "stq.yaml")
		require.NoError(t, os.WriteFile(cfgPath, []byte(`
http:
  port: 8080
database:
  driver: badger
crypto:
  public_key_path: `+filepath.Join(keys, "bgv.pk")+`
partitions:
  local_id: fog-1
`), 0o600))

		ds := ingest.Dataset{
			Nodes: []octree.Node{
				{ID: "0", Level: 0, Morton: []int{0}, Grid: octree.GridCell{0, 0, 0, 3, 3, 3}, Children: []string{"1"}},
				{ID: "1", ParentID: "0", Level: 1, IsLeaf: true, Morton: []int{1}, Grid: octree.GridCell{0, 0, 0, 1, 1, 1}},
			},
			Points: []ingest.PlainPoint{
				{Keyword: "taxi", NodeID: "1", TrajID: 7, Date: ingest.At(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)), Latitude: 39.9, Longitude: 116.4, Time: 3600},
			},
		}
		in := writeJSONFile(t, dir, "dataset.json", ds)

		out, err := execute(t, "load", in, "--config", cfgPath)
		require.NoError(t, err)
		assert.Equal(t, "partition fog-1: 2 nodes, 1 leaves, 1 points\n", out)
	})
}

func TestEncryptQuery_MissingKey(t *testing.T) {
	in := writeJSONFile(t, t.TempDir(), "plain.json", plainQuery())
	_, err := execute(t, "encrypt-query", in, "--public-key", filepath.Join(t.TempDir(), "nope.pk"))
	assert.ErrorContains(t, err, "load public key")
}

func TestQuery_Wait(t *testing.T) {
	var gotAuth, gotWait string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotWait = r.URL.Query().Get("wait")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.QueryStatus{ID: "q-1", Keyword: "taxi", Status: "completed",
			Trajectories: []string{"7"}})
	}))
	defer srv.Close()

	in := writeJSONFile(t, t.TempDir(), "query.json", domquery.Query{Keyword: "taxi"})
	out, err := execute(t, "query", in, "--addr", srv.URL, "--api-key", "k1")
	require.NoError(t, err)

	assert.Equal(t, "ApiKey k1", gotAuth)
	assert.Equal(t, "true", gotWait)
	var st client.QueryStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, []string{"7"}, st.Trajectories)
}

func TestQuery_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(client.QueryStatus{ID: "q-2", Status: "failed", Error: "public key unavailable"})
	}))
	defer srv.Close()

	in := writeJSONFile(t, t.TempDir(), "query.json", domquery.Query{Keyword: "taxi"})
	out, err := execute(t, "query", in, "--addr", srv.URL)
	require.ErrorIs(t, err, client.ErrQueryFailed)
	assert.True(t, strings.Contains(out, `"status": "failed"`), out)
}
