package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS bool   // Explicitly enable TLS without API Key
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantStore implements Store against a Qdrant server over gRPC. Unlike the
// local backend it supports native per-video delete+upsert, so indexing jobs
// write to it directly without a staging workspace.
type QdrantStore struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient

	mu   sync.RWMutex
	dims map[string]int // collection -> vector dimension, filled by Ensure
}

// NewQdrantStore connects to a Qdrant server.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
// Parameters:
//   - cfg: connection settings.
// Returns:
//   - *QdrantStore: connected store.
//   - error: non-nil if the gRPC client cannot be created.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption

	// TLS is enabled if an API key is set or UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.WithTransportCredentials(creds))

		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		// Local mode: no TLS, no authentication
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantStore{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		dims:          make(map[string]int),
	}, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

// Ensure creates the collection if it doesn't exist and verifies the vector
// dimension of an existing one.
func (s *QdrantStore) Ensure(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d for collection %s", dim, collection)
	}

	info, err := s.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(dim) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", collection, size, dim)
			}
		}
		s.rememberDim(collection, dim)
		return nil
	}

	_, err = s.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}

	s.rememberDim(collection, dim)
	return nil
}

func (s *QdrantStore) rememberDim(collection string, dim int) {
	s.mu.Lock()
	s.dims[collection] = dim
	s.mu.Unlock()
}

func (s *QdrantStore) dimension(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims[collection]
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	config := info.GetConfig()
	if config == nil {
		return 0, false
	}

	params := config.GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

// UpsertByVideo deletes all points of the video with a typed keyword filter,
// then inserts the given rows in one upsert call.
func (s *QdrantStore) UpsertByVideo(ctx context.Context, collection, videoID string, rows []Row) error {
	if dim := s.dimension(collection); dim > 0 {
		for _, row := range rows {
			if err := validateRow(row, dim); err != nil {
				return fmt.Errorf("collection %s: %w", collection, err)
			}
		}
	}

	_, err := s.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: videoFilter(videoID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for video %s: %w", videoID, err)
	}

	if len(rows) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(rows))
	for i, row := range rows {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: pointUUID(row.ID),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: row.Vector,
					},
				},
			},
			Payload: rowPayload(row),
		}
	}

	_, err = s.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// pointUUID maps a row ID to a Qdrant point UUID. IDs that are already UUIDs
// pass through; anything else gets a stable name-based UUID.
func pointUUID(id string) string {
	if uid, err := uuid.Parse(id); err == nil {
		return uid.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func rowPayload(row Row) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"row_id":   {Kind: &pb.Value_StringValue{StringValue: row.ID}},
		"video_id": {Kind: &pb.Value_StringValue{StringValue: row.VideoID}},
	}
	if row.Caption != "" {
		payload["caption"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: row.Caption}}
		payload["timestamp"] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: row.Timestamp}}
	}
	if row.Title != "" {
		payload["title"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: row.Title}}
		payload["tags"] = tagsToValue(row.Tags)
	}
	return payload
}

func tagsToValue(tags []string) *pb.Value {
	values := make([]*pb.Value, len(tags))
	for i, tag := range tags {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
	}
	return &pb.Value{
		Kind: &pb.Value_ListValue{
			ListValue: &pb.ListValue{Values: values},
		},
	}
}

// videoFilter builds a typed keyword match on the video_id payload field.
func videoFilter(videoID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "video_id",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: videoID},
						},
					},
				},
			},
		},
	}
}

// Query performs a similarity search. Qdrant returns cosine similarity
// scores; they are converted to distances so ordering matches the Store
// contract.
func (s *QdrantStore) Query(ctx context.Context, collection string, vec []float32, k int, videoID string) ([]Row, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if videoID != "" {
		req.Filter = videoFilter(videoID)
	}

	resp, err := s.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %s: %w", collection, err)
	}

	rows := make([]Row, len(resp.Result))
	for i, scored := range resp.Result {
		row := parsePayload(scored.Payload)
		if row.ID == "" {
			row.ID = scored.Id.GetUuid()
		}
		row.Distance = 1 - scored.Score
		rows[i] = row
	}

	return rows, nil
}

func parsePayload(payload map[string]*pb.Value) Row {
	var row Row
	if payload == nil {
		return row
	}
	if v, ok := payload["row_id"]; ok {
		row.ID = v.GetStringValue()
	}
	if v, ok := payload["video_id"]; ok {
		row.VideoID = v.GetStringValue()
	}
	if v, ok := payload["caption"]; ok {
		row.Caption = v.GetStringValue()
	}
	if v, ok := payload["timestamp"]; ok {
		row.Timestamp = v.GetDoubleValue()
	}
	if v, ok := payload["title"]; ok {
		row.Title = v.GetStringValue()
	}
	if v, ok := payload["tags"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				row.Tags = append(row.Tags, item.GetStringValue())
			}
		}
	}
	return row
}

// Collections lists the collection names on the server.
func (s *QdrantStore) Collections(ctx context.Context) ([]string, error) {
	resp, err := s.collectClient.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, 0, len(resp.Collections))
	for _, c := range resp.Collections {
		names = append(names, c.GetName())
	}
	return names, nil
}
