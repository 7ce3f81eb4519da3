// services/answer_index_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/qdrant/go-client/qdrant"
	"github.com/typesense/typesense-go/v2/typesense"
	typesenseapi "github.com/typesense/typesense-go/v2/typesense/api"
)

const (
	answerCollectionName = "tagged_answers"
	embeddingModel       = "text-embedding-3-small"
	embeddingDimensions  = 1536
)

type answerIndexService struct {
	qdrantClient    *qdrant.Client
	typesenseClient *typesense.Client
	embedder        EmbeddingProvider
}

// NewAnswerIndexService creates the search-index sink for tagged answers.
// Both clients are optional; a nil client just skips that index so the
// pipeline keeps working with partial infrastructure.
func NewAnswerIndexService(qdrantClient *qdrant.Client, typesenseClient *typesense.Client, embedder EmbeddingProvider) AnswerIndexService {
	return &answerIndexService{
		qdrantClient:    qdrantClient,
		typesenseClient: typesenseClient,
		embedder:        embedder,
	}
}

func (s *answerIndexService) EnsureCollections(ctx context.Context) error {
	if s.qdrantClient != nil {
		err := s.qdrantClient.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: answerCollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     embeddingDimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create Qdrant collection: %w", err)
		}
		fmt.Printf("[EnsureCollections] Qdrant collection %q is ready\n", answerCollectionName)
	}

	if s.typesenseClient != nil {
		facet := true
		sort := true
		defaultSortField := "indexed_at"
		schema := &typesenseapi.CollectionSchema{
			Name: answerCollectionName,
			Fields: []typesenseapi.Field{
				{Name: "id", Type: "string"},
				{Name: "question_set_id", Type: "string", Facet: &facet},
				{Name: "brand_name", Type: "string", Facet: &facet},
				{Name: "category_name", Type: "string", Facet: &facet},
				{Name: "question", Type: "string"},
				{Name: "answer", Type: "string"},
				{Name: "brand_mentioned", Type: "bool", Facet: &facet},
				{Name: "sentiment", Type: "string", Facet: &facet},
				{Name: "indexed_at", Type: "int64", Sort: &sort},
			},
			DefaultSortingField: &defaultSortField,
		}
		if _, err := s.typesenseClient.Collections().Create(ctx, schema); err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create Typesense collection: %w", err)
		}
		fmt.Printf("[EnsureCollections] Typesense collection %q is ready\n", answerCollectionName)
	}

	return nil
}

// IndexTaggedAnswers pushes every tagged answer in the set into the search
// indexes, returning how many documents were written. Record uuids double
// as document ids so re-indexing a set overwrites instead of duplicating.
func (s *answerIndexService) IndexTaggedAnswers(ctx context.Context, set *models.QuestionSet) (int, error) {
	if set == nil {
		return 0, fmt.Errorf("question set is nil")
	}
	if s.qdrantClient == nil && s.typesenseClient == nil {
		return 0, nil
	}

	var records []*models.QnaRecord
	for i := range set.Qna {
		if set.Qna[i].Flags != nil && set.Qna[i].HasAnswer() {
			records = append(records, &set.Qna[i])
		}
	}
	if len(records) == 0 {
		fmt.Printf("[IndexTaggedAnswers] Nothing tagged to index for set %s\n", set.ID)
		return 0, nil
	}

	fmt.Printf("[IndexTaggedAnswers] 📇 Indexing %d tagged answers for set %s\n", len(records), set.ID)

	if s.qdrantClient != nil && s.embedder != nil {
		if err := s.upsertToQdrant(ctx, set, records); err != nil {
			return 0, err
		}
	}
	if s.typesenseClient != nil {
		if err := s.upsertToTypesense(ctx, set, records); err != nil {
			return 0, err
		}
	}

	return len(records), nil
}

func (s *answerIndexService) upsertToQdrant(ctx context.Context, set *models.QuestionSet, records []*models.QnaRecord) error {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Question + "\n" + rec.Answer
	}

	vectors, err := s.embedder.CreateEmbedding(ctx, texts, embeddingModel)
	if err != nil {
		return fmt.Errorf("failed to embed answers: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embedding count mismatch: got %d vectors for %d answers", len(vectors), len(records))
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload := qdrant.NewValueMap(map[string]any{
			"question_set_id": set.ID.String(),
			"brand_name":      set.BrandName,
			"category_name":   rec.CategoryName,
			"question":        rec.Question,
			"brand_mentioned": rec.Flags.BrandMentioned,
			"sentiment":       rec.Flags.Sentiment,
		})
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.UUID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	waitUpsert := true
	if _, err := s.qdrantClient.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: answerCollectionName,
		Points:         points,
		Wait:           &waitUpsert,
	}); err != nil {
		return fmt.Errorf("failed to upsert to Qdrant: %w", err)
	}
	return nil
}

func (s *answerIndexService) upsertToTypesense(ctx context.Context, set *models.QuestionSet, records []*models.QnaRecord) error {
	now := time.Now().Unix()
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = map[string]interface{}{
			"id":              rec.UUID,
			"question_set_id": set.ID.String(),
			"brand_name":      set.BrandName,
			"category_name":   rec.CategoryName,
			"question":        rec.Question,
			"answer":          rec.Answer,
			"brand_mentioned": rec.Flags.BrandMentioned,
			"sentiment":       rec.Flags.Sentiment,
			"indexed_at":      now,
		}
	}

	action := "upsert"
	if _, err := s.typesenseClient.Collection(answerCollectionName).Documents().Import(ctx, docs, &typesenseapi.ImportDocumentsParams{Action: &action}); err != nil {
		return fmt.Errorf("failed to import to Typesense: %w", err)
	}
	return nil
}
