package query

import (
	"context"
	"sync"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/crypto/cryptotest"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/domain/event"
	"github.com/kailas-cloud/stquery/internal/domain/octree"
	"github.com/kailas-cloud/stquery/internal/domain/oracle"
	"github.com/kailas-cloud/stquery/internal/domain/partition"
	domquery "github.com/kailas-cloud/stquery/internal/domain/query"
	"github.com/kailas-cloud/stquery/internal/domain/trajectory"
	"github.com/kailas-cloud/stquery/internal/usecase/aggregate"
	"github.com/kailas-cloud/stquery/internal/usecase/compare"
	oraclesvc "github.com/kailas-cloud/stquery/internal/usecase/oracle"
	"github.com/kailas-cloud/stquery/internal/usecase/prune"
	"github.com/kailas-cloud/stquery/internal/usecase/sstp"
)

// --- Mock Partitions ---

type mockPartitions struct {
	list []partition.Partition
	err  error
}

func (m *mockPartitions) List(context.Context) ([]partition.Partition, error) {
	return m.list, m.err
}

// --- Mock Runners ---

type mockLocal struct {
	runFn func(ctx context.Context, run domquery.PartitionRun, sink event.Sink) (domquery.PartitionResult, error)
}

func (m *mockLocal) Run(
	ctx context.Context, run domquery.PartitionRun, sink event.Sink,
) (domquery.PartitionResult, error) {
	return m.runFn(ctx, run, sink)
}

type mockRemote struct {
	runFn func(ctx context.Context, endpoint string, run domquery.PartitionRun) (domquery.PartitionResult, error)
}

func (m *mockRemote) Run(
	ctx context.Context, endpoint string, run domquery.PartitionRun,
) (domquery.PartitionResult, error) {
	return m.runFn(ctx, endpoint, run)
}

// --- Mock Oracle ---

type mockOracle struct {
	inner      *oraclesvc.Service
	decryptErr error

	mu        sync.Mutex
	delivered []oracle.CTKDelivery
}

func (m *mockOracle) Decrypt(ctx context.Context, req oracle.DecryptRequest) (oracle.DecryptResponse, error) {
	if m.decryptErr != nil {
		return oracle.DecryptResponse{}, m.decryptErr
	}
	return m.inner.Decrypt(ctx, req)
}

func (m *mockOracle) ReceiveCTK(_ context.Context, d oracle.CTKDelivery) error {
	m.mu.Lock()
	m.delivered = append(m.delivered, d)
	m.mu.Unlock()
	return nil
}

// --- Mock Requests ---

type memRequests struct {
	mu    sync.Mutex
	byID  map[string]domquery.Request
	saves int
}

func newMemRequests() *memRequests {
	return &memRequests{byID: make(map[string]domquery.Request)}
}

func (m *memRequests) Save(_ context.Context, r *domquery.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = *r
	m.saves++
	return nil
}

func (m *memRequests) Get(_ context.Context, id string) (*domquery.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

// --- In-memory partition store ---

type memStore struct {
	nodes  map[string]octree.Node
	points map[string][]trajectory.Point
}

func (s *memStore) Root(context.Context) (octree.Node, error) {
	return s.nodes["root"], nil
}

func (s *memStore) Children(_ context.Context, id string) ([]octree.Node, error) {
	var out []octree.Node
	for _, c := range s.nodes[id].Children {
		out = append(out, s.nodes[c])
	}
	return out, nil
}

func (s *memStore) Points(_ context.Context, _, nodeID string) ([]trajectory.Point, error) {
	return s.points[nodeID], nil
}

// --- Fixture ---

type fixture struct {
	plain      *cryptotest.Plain
	store      *memStore
	oracle     *mockOracle
	requests   *memRequests
	partitions *mockPartitions
	local      LocalRunner
}

func newFixture() *fixture {
	plain := cryptotest.NewPlain()
	inner := oraclesvc.New(plain, nil)
	store := fixtureStore(plain)
	cmp := compare.New(plain)
	return &fixture{
		plain:    plain,
		store:    store,
		oracle:   &mockOracle{inner: inner},
		requests: newMemRequests(),
		partitions: &mockPartitions{list: []partition.Partition{
			{ID: "local", Keywords: []string{"taxi"}, Status: partition.StatusOnline},
		}},
		local: sstp.New(
			prune.New(store, inner, cmp, plain),
			aggregate.New(store, inner, cmp, plain),
		),
	}
}

func (f *fixture) service(remote RemoteRunner, cfg Config) *Service {
	return New(f.partitions, f.local, remote, f.oracle, f.plain, f.requests, NewBus(), cfg)
}

func (f *fixture) enc(vs ...int64) []crypto.EncryptedValue {
	out := make([]crypto.EncryptedValue, len(vs))
	for i, v := range vs {
		out[i] = f.plain.MustEncrypt(v)
	}
	return out
}

func point(p *cryptotest.Plain, traj, date, lat, lon int64) trajectory.Point {
	return trajectory.Point{
		TrajID:    p.MustEncrypt(traj),
		Date:      p.MustEncrypt(date),
		Latitude:  p.MustEncrypt(lat),
		Longitude: p.MustEncrypt(lon),
		Time:      p.MustEncrypt(30_000),
	}
}

// day0 is 2024-01-31T00:00:00Z; point dates are Unix seconds.
const day0 = 1_706_659_200

// fixtureStore: "west" lies in the first region's grid box, "east" crosses
// both regions' boxes. Offsets are seconds after day0.
//
//	traj 7: region 1 at +1000
//	traj 8: region 1 at +2000, region 2 at +2100
//	traj 9: region 1 at +3000, region 2 at +9000
func fixtureStore(p *cryptotest.Plain) *memStore {
	return &memStore{
		nodes: map[string]octree.Node{
			"root": {ID: "root", Morton: []int{0}, Grid: octree.GridCell{0, 0, 0, 200, 200, 200},
				Children: []string{"west", "east"}},
			"west": {ID: "west", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{1},
				Grid: octree.GridCell{10, 10, 10, 50, 50, 50}},
			"east": {ID: "east", ParentID: "root", Level: 1, IsLeaf: true, Morton: []int{2},
				Grid: octree.GridCell{50, 50, 50, 150, 150, 150}},
		},
		points: map[string][]trajectory.Point{
			"west": {point(p, 7, day0+1000, 20, 20)},
			"east": {
				point(p, 8, day0+2000, 55, 55),
				point(p, 8, day0+2100, 100, 100),
				point(p, 9, day0+3000, 58, 58),
				point(p, 9, day0+9000, 120, 120),
			},
		},
	}
}

func (f *fixture) query() domquery.Query {
	return domquery.Query{
		Keyword:   "taxi",
		TimeSpan:  600,
		Algorithm: domquery.AlgorithmSSTP,
		SubQueries: []domquery.SubQuery{
			{
				Morton: domquery.MortonRange{Min: f.enc(1), Max: f.enc(2)},
				Grid:   domquery.Box{Min: f.enc(0, 0, 0), Max: f.enc(100, 100, 100)},
				Points: domquery.Box{Min: f.enc(0, 0, 0), Max: f.enc(60, 60, 86_400)},
			},
			{
				Morton: domquery.MortonRange{Min: f.enc(1), Max: f.enc(2)},
				Grid:   domquery.Box{Min: f.enc(55, 55, 55), Max: f.enc(200, 200, 200)},
				Points: domquery.Box{Min: f.enc(61, 61, 0), Max: f.enc(200, 200, 86_400)},
			},
		},
	}
}
