// services/interfaces.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// ErrRetryRequired is returned by a completion provider when the backend
// signalled a transient interception (bot challenge, mid-flight reset) and
// the same request should be resubmitted once before giving up.
var ErrRetryRequired = errors.New("completion backend requires retry")

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	Temperature float64
	ExpectJSON  bool
	MaxTokens   int

	// Schema requests strict structured output on providers that support
	// it (see GenerateSchema). Providers without schema enforcement fall
	// back to ExpectJSON behavior.
	Schema     interface{}
	SchemaName string
}

// CompletionResult is the response from a completion provider.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// CompletionProvider is the text-completion capability consumed by the
// tagging, answer, and analysis services.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResult, error)
}

// KeyedCompletionProvider is a completion provider whose API credential can
// be swapped at runtime. The credential rotator targets this interface.
type KeyedCompletionProvider interface {
	CompletionProvider
	UseAPIKey(key string)
}

// QuestionSetStore is the document-store collaborator for question sets.
type QuestionSetStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.QuestionSet, error)
	Create(ctx context.Context, set *models.QuestionSet) error
	// UpdateQna replaces the whole qna array for a set.
	UpdateQna(ctx context.Context, id uuid.UUID, qna []models.QnaRecord) error
	// UpdateRecord replaces a single qna element matched by its uuid token.
	UpdateRecord(ctx context.Context, id uuid.UUID, record models.QnaRecord) error
	// ListStale returns sets whose latest metrics report is older than cutoff
	// (or that have no report at all).
	ListStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// MetricsStore is the document-store collaborator for metrics reports.
type MetricsStore interface {
	GetLatestForSet(ctx context.Context, questionSetID uuid.UUID) (*models.MetricsReport, error)
	Insert(ctx context.Context, report *models.MetricsReport) error
	Update(ctx context.Context, report *models.MetricsReport) error
}

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("document not found")

// TaggingService runs the semantic tagging batch engine over a question set.
type TaggingService interface {
	TagQuestionSet(ctx context.Context, set *models.QuestionSet) (*TaggingSummary, error)
}

// TaggingSummary reports what a tagging session accomplished. Partial
// success (credential exhaustion mid-set) is a valid outcome, not an error.
type TaggingSummary struct {
	TotalRecords     int      `json:"total_records"`
	AlreadyTagged    int      `json:"already_tagged"`
	NewlyTagged      int      `json:"newly_tagged"`
	SkippedBatches   int      `json:"skipped_batches"`
	CredentialsUsed  int      `json:"credentials_used"`
	Exhausted        bool     `json:"exhausted"`
	TotalCost        float64  `json:"total_cost"`
	ProcessingErrors []string `json:"processing_errors"`
}

// MetricsService reduces a tagged question set into a GEO metrics report.
type MetricsService interface {
	ComputeMetrics(set *models.QuestionSet) (*models.MetricsReport, error)
	// ComputeAndSave computes the report and persists it under the 7-day
	// update-vs-insert policy. The computed report is returned even when
	// persistence fails.
	ComputeAndSave(ctx context.Context, set *models.QuestionSet) (*models.MetricsReport, error)
}

// AnswerService generates answers for records still carrying the pending
// sentinel.
type AnswerService interface {
	RunUnanswered(ctx context.Context, set *models.QuestionSet) (*AnswerRunSummary, error)
}

// AnswerRunSummary reports an answer-generation pass.
type AnswerRunSummary struct {
	TotalRecords     int      `json:"total_records"`
	Answered         int      `json:"answered"`
	Failed           int      `json:"failed"`
	TotalCost        float64  `json:"total_cost"`
	ProcessingErrors []string `json:"processing_errors"`
}

// AnalysisService infers brand identity for a website and generates the
// category/question matrix used to probe AI visibility.
type AnalysisService interface {
	AnalyzeWebsite(ctx context.Context, domain, nation, state, queryContext string) (*models.WebsiteAnalysis, error)
	GenerateQuestions(ctx context.Context, analysis *models.WebsiteAnalysis, set *models.QuestionSet) ([]models.QnaRecord, error)
}

// AnswerIndexService pushes tagged answers into the search indexes.
type AnswerIndexService interface {
	EnsureCollections(ctx context.Context) error
	IndexTaggedAnswers(ctx context.Context, set *models.QuestionSet) (int, error)
}

// EmbeddingProvider turns text into vectors for the answer index.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// OpenAIProvider is the full OpenAI capability set: completions for the
// analysis prompts and embeddings for the answer index.
type OpenAIProvider interface {
	CompletionProvider
	EmbeddingProvider
}

// CostService calculates provider call costs from token usage.
type CostService interface {
	CalculateCost(provider, model string, inputTokens, outputTokens int) float64
}

// GenerateSchema generates a JSON schema for structured outputs.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	// Convert to the format expected by OpenAI
	result := map[string]interface{}{
		"type":       "object",
		"properties": schema.Properties,
		"required":   schema.Required,
	}

	if schema.AdditionalProperties != nil {
		result["additionalProperties"] = false
	}

	return result
}
