package semantic

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/thrifter/pkg/resilience"
)

const (
	// UpsertBatch is the number of points sent per upsert call.
	UpsertBatch = 100
	// keepGenerations is how many built collections stay alive so that views
	// handed out before the latest rebuild can finish their queries.
	keepGenerations = 2
	// tieMargin widens remote fetches so equal scores at the cutoff can be
	// re-ordered by insertion order locally.
	tieMargin = 10
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex stores every build in its own collection named <base>_g<N>.
// Older generations are dropped once two newer ones exist.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	base        string
	breaker     *resilience.Breaker
	logger      *slog.Logger

	mu      sync.Mutex
	scanned bool
	gen     int
	live    []string
	stale   []string
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, base string, breaker *resilience.Breaker, logger *slog.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	q := newQdrant(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), base, breaker, logger)
	q.conn = conn
	return q, nil
}

func newQdrant(points pointsAPI, collections collectionsAPI, base string, breaker *resilience.Breaker, logger *slog.Logger) *QdrantIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: "qdrant"})
	}
	if base == "" {
		base = "shops"
	}
	return &QdrantIndex{
		points:      points,
		collections: collections,
		base:        base,
		breaker:     breaker,
		logger:      logger.With("component", "semantic.qdrant"),
	}
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Backend implements Index.
func (q *QdrantIndex) Backend() string { return "qdrant" }

// Ping lists collections to confirm the server answers.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	return q.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
		if err != nil {
			return fmt.Errorf("semantic: list collections: %w", err)
		}
		return nil
	})
}

// Rebuild writes a new generation collection and returns a view bound to it.
// On failure the partial collection is removed and earlier views keep working.
func (q *QdrantIndex) Rebuild(ctx context.Context, ids []string, vectors [][]float32) (View, error) {
	dims, err := checkBuild(ids, vectors)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return emptyView{}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.scan(ctx); err != nil {
		return nil, err
	}
	q.gen++
	name := fmt.Sprintf("%s_g%d", q.base, q.gen)

	if err := q.build(ctx, name, ids, vectors, dims); err != nil {
		q.drop(context.WithoutCancel(ctx), name)
		return nil, err
	}

	q.live = append(q.live, name)
	for len(q.live) > keepGenerations {
		q.drop(ctx, q.live[0])
		q.live = q.live[1:]
	}
	for _, s := range q.stale {
		q.drop(ctx, s)
	}
	q.stale = nil

	q.logger.Info("generation built", "collection", name, "points", len(ids), "dims", dims)
	return &qdrantView{index: q, collection: name, size: len(ids)}, nil
}

// scan finds generations left by an earlier process once, so numbering
// continues past them and they are cleaned up after the next build.
func (q *QdrantIndex) scan(ctx context.Context) error {
	if q.scanned {
		return nil
	}
	list, err := resilience.Do(q.breaker, ctx, func(ctx context.Context) (*pb.ListCollectionsResponse, error) {
		return q.collections.List(ctx, &pb.ListCollectionsRequest{})
	})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	prefix := q.base + "_g"
	for _, c := range list.GetCollections() {
		name := c.GetName()
		n, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		g, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		q.gen = max(q.gen, g)
		q.stale = append(q.stale, name)
	}
	q.scanned = true
	return nil
}

func (q *QdrantIndex) build(ctx context.Context, name string, ids []string, vectors [][]float32, dims int) error {
	err := q.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := q.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", name, err)
	}

	for start := 0; start < len(ids); start += UpsertBatch {
		end := min(start+UpsertBatch, len(ids))
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, point(name, ids[i], i, vectors[i]))
		}
		wait := true
		err := q.breaker.Call(ctx, func(ctx context.Context) error {
			_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
				CollectionName: name,
				Wait:           &wait,
				Points:         points,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), name, err)
		}
	}
	return nil
}

func (q *QdrantIndex) drop(ctx context.Context, name string) {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		q.logger.Warn("drop collection failed", "collection", name, "error", err)
	}
}

// PointID derives a stable point id for a shop within a collection.
func PointID(collection, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+id)).String()
}

func point(collection, id string, ordinal int, vec []float32) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(collection, id)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: vec},
			},
		},
		Payload: map[string]*pb.Value{
			"shop_id": {Kind: &pb.Value_StringValue{StringValue: id}},
			"ordinal": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ordinal)}},
		},
	}
}

type qdrantView struct {
	index      *QdrantIndex
	collection string
	size       int
}

func (v *qdrantView) Len() int { return v.size }

func (v *qdrantView) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	k = min(k, v.size)
	limit := min(k+tieMargin, v.size)

	resp, err := resilience.Do(v.index.breaker, ctx, func(ctx context.Context) (*pb.SearchResponse, error) {
		return v.index.points.Search(ctx, &pb.SearchPoints{
			CollectionName: v.collection,
			Vector:         vector,
			Limit:          uint64(limit),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", v.collection, err)
	}

	type ranked struct {
		hit Hit
		ord int64
	}
	out := make([]ranked, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		id := p["shop_id"].GetStringValue()
		if id == "" {
			continue
		}
		out = append(out, ranked{
			hit: Hit{ID: id, Score: r.GetScore()},
			ord: p["ordinal"].GetIntegerValue(),
		})
	}
	slices.SortFunc(out, func(a, b ranked) int {
		if c := cmp.Compare(b.hit.Score, a.hit.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ord, b.ord)
	})
	if len(out) > k {
		out = out[:k]
	}

	hits := make([]Hit, len(out))
	for i, r := range out {
		hits[i] = r.hit
	}
	return hits, nil
}
