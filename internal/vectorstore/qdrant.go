package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"citerag/internal/chunk"
)

// QdrantStore implements VectorStore using Qdrant. All documents share one
// collection; points are filtered by document_id payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if collection == "" {
		collection = "documents"
	}
	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the chunk collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert inserts or updates embedded chunks.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: chunkPayload(p.DocumentID, p.Chunk),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search performs similarity search with a score threshold.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]chunk.Candidate, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(minScore),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	candidates := make([]chunk.Candidate, 0, len(response))
	for _, point := range response {
		c := candidateFromPayload(point.Payload)
		c.Score = float64(point.Score)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// ScrollDocument returns the stored chunks of one document.
func (s *QdrantStore) ScrollDocument(ctx context.Context, documentID string, limit int) ([]chunk.Candidate, error) {
	if limit <= 0 {
		limit = 100
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll document %s: %w", documentID, err)
	}

	candidates := make([]chunk.Candidate, 0, len(points))
	for _, point := range points {
		candidates = append(candidates, candidateFromPayload(point.Payload))
	}
	return candidates, nil
}

// DeleteDocument removes all chunks of a document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// chunkPayload flattens a chunk into the point payload. The structural
// metadata nests under "metadata", mirroring the chunk's JSON shape.
func chunkPayload(documentID string, c chunk.Chunk) map[string]*qdrant.Value {
	m := c.Metadata
	fields := map[string]*qdrant.Value{
		"char_count":           qdrant.NewValueInt(int64(m.CharCount)),
		"chunk_types":          stringListValue(m.ChunkTypes),
		"primary_type":         qdrant.NewValueString(m.PrimaryType),
		"section_hierarchy":    stringListValue(m.SectionHierarchy),
		"has_table":            qdrant.NewValueBool(m.HasTable),
		"has_list":             qdrant.NewValueBool(m.HasList),
		"has_code":             qdrant.NewValueBool(m.HasCode),
		"has_cross_references": qdrant.NewValueBool(m.HasCrossReferences),
		"created_at":           qdrant.NewValueInt(m.CreatedAt),
	}
	if m.PrevChunkIndex != nil {
		fields["prev_chunk_index"] = qdrant.NewValueInt(int64(*m.PrevChunkIndex))
	}
	if m.NextChunkIndex != nil {
		fields["next_chunk_index"] = qdrant.NewValueInt(int64(*m.NextChunkIndex))
	}

	return map[string]*qdrant.Value{
		"document_id": qdrant.NewValueString(documentID),
		"text":        qdrant.NewValueString(c.Text),
		"page":        qdrant.NewValueInt(int64(c.Page)),
		"chunk_index": qdrant.NewValueInt(int64(c.ChunkIndex)),
		"metadata":    qdrant.NewValueStruct(&qdrant.Struct{Fields: fields}),
	}
}

func candidateFromPayload(payload map[string]*qdrant.Value) chunk.Candidate {
	var c chunk.Candidate
	if payload == nil {
		return c
	}

	c.DocumentID = payload["document_id"].GetStringValue()
	c.Text = payload["text"].GetStringValue()
	c.Page = int(payload["page"].GetIntegerValue())
	c.ChunkIndex = int(payload["chunk_index"].GetIntegerValue())

	meta := payload["metadata"].GetStructValue()
	if meta == nil {
		return c
	}
	fields := meta.Fields

	c.Metadata.CharCount = int(fields["char_count"].GetIntegerValue())
	c.Metadata.ChunkTypes = stringList(fields["chunk_types"])
	c.Metadata.PrimaryType = fields["primary_type"].GetStringValue()
	c.Metadata.SectionHierarchy = stringList(fields["section_hierarchy"])
	c.Metadata.HasTable = fields["has_table"].GetBoolValue()
	c.Metadata.HasList = fields["has_list"].GetBoolValue()
	c.Metadata.HasCode = fields["has_code"].GetBoolValue()
	c.Metadata.HasCrossReferences = fields["has_cross_references"].GetBoolValue()
	c.Metadata.CreatedAt = fields["created_at"].GetIntegerValue()

	if v, ok := fields["prev_chunk_index"]; ok {
		idx := int(v.GetIntegerValue())
		c.Metadata.PrevChunkIndex = &idx
	}
	if v, ok := fields["next_chunk_index"]; ok {
		idx := int(v.GetIntegerValue())
		c.Metadata.NextChunkIndex = &idx
	}

	return c
}

func stringListValue(values []string) *qdrant.Value {
	list := make([]*qdrant.Value, len(values))
	for i, v := range values {
		list[i] = qdrant.NewValueString(v)
	}
	return qdrant.NewValueList(&qdrant.ListValue{Values: list})
}

func stringList(v *qdrant.Value) []string {
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, item := range list.Values {
		out = append(out, item.GetStringValue())
	}
	return out
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
