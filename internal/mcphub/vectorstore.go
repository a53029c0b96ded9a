package mcphub

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
)

// VectorStore wraps a Qdrant collection for the hub's vector_search and
// add/delete/update/reindex_vector_documents built-ins. The interface
// shape (upsert/search/delete by kb-scoped collection name) follows the
// VectorStoreDriver contract observed in the pack's vectorstore registry
// (agentoven's control-plane), adapted to the concrete qdrant-go-client
// gRPC API since no Qdrant driver implementation exists in the retrieval
// pack to imitate directly.
type VectorStore struct {
	client *qdrant.Client
}

func NewVectorStore(host string, port int) (*VectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &VectorStore{client: client}, nil
}

func collectionFor(kbID string) string {
	return "kb_" + kbID
}

func (s *VectorStore) ensureCollection(ctx context.Context, kbID string, dim uint64) error {
	name := collectionFor(kbID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// Upsert indexes one document's embedding under kbID, tagged with its
// source path for later deletion/reindex.
func (s *VectorStore) Upsert(ctx context.Context, kbID, path string, vector []float32, text string) error {
	if err := s.ensureCollection(ctx, kbID, uint64(len(vector))); err != nil {
		return err
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionFor(kbID),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(kbID+":"+path)).String()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{"path": path, "text": text}),
		}},
	})
	return err
}

// Search returns the top-k nearest documents by cosine similarity.
func (s *VectorStore) Search(ctx context.Context, kbID string, vector []float32, topK int) ([]SearchHit, error) {
	limit := uint64(topK)
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionFor(kbID),
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(resp))
	for _, pt := range resp {
		hit := SearchHit{Score: pt.GetScore()}
		if payload := pt.GetPayload(); payload != nil {
			if v, ok := payload["path"]; ok {
				hit.Path = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				hit.Text = v.GetStringValue()
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

// Delete removes the point indexed for path, used by reindex/delete.
func (s *VectorStore) Delete(ctx context.Context, kbID, path string) error {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(kbID+":"+path)).String()
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionFor(kbID),
		Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{qdrant.NewIDUUID(id)}),
	})
	return err
}

// SearchHit is one vector search result surfaced to the model.
type SearchHit struct {
	Path  string
	Text  string
	Score float32
}
