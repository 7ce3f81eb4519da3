// internal/models/models.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnswerPending is the placeholder stored on a question until an answer has
// been generated for it.
const AnswerPending = "Not available yet"

// Sentiment values produced by the semantic tagger.
const (
	SentimentPositive        = "positive"
	SentimentNeutralPositive = "neutral_positive"
	SentimentNeutral         = "neutral"
	SentimentNegative        = "negative"
)

// Citation types produced by the semantic tagger.
const (
	CitationFirstParty = "first_party"
	CitationThirdParty = "third_party"
	CitationNone       = "none"
)

// SemanticFlags holds the one-time LLM tags for a single question/answer
// pair. A record either has all flags populated or none at all; partially
// tagged records are never persisted.
type SemanticFlags struct {
	BrandInQuestion      bool     `json:"brand_in_question"`
	BrandMentioned       bool     `json:"brand_mentioned"`
	BrandRank            *int     `json:"brand_rank"`
	IsRecommended        bool     `json:"is_recommended"`
	Sentiment            string   `json:"sentiment"`
	CitationType         string   `json:"citation_type"`
	CitationExpected     bool     `json:"citation_expected"`
	FeaturesMentioned    []string `json:"features_mentioned"`
	CompetitorsMentioned []string `json:"competitors_mentioned"`
}

// Normalize coerces missing or invalid sub-fields to their documented
// defaults so a stored flags block is always fully populated.
func (f *SemanticFlags) Normalize() {
	switch strings.TrimSpace(strings.ToLower(f.Sentiment)) {
	case SentimentPositive:
		f.Sentiment = SentimentPositive
	case SentimentNeutralPositive:
		f.Sentiment = SentimentNeutralPositive
	case SentimentNegative:
		f.Sentiment = SentimentNegative
	default:
		f.Sentiment = SentimentNeutral
	}

	switch strings.TrimSpace(strings.ToLower(f.CitationType)) {
	case CitationFirstParty:
		f.CitationType = CitationFirstParty
	case CitationThirdParty:
		f.CitationType = CitationThirdParty
	default:
		f.CitationType = CitationNone
	}

	if f.FeaturesMentioned == nil {
		f.FeaturesMentioned = []string{}
	}
	if f.CompetitorsMentioned == nil {
		f.CompetitorsMentioned = []string{}
	}
	if f.BrandRank != nil && *f.BrandRank < 1 {
		f.BrandRank = nil
	}
}

// QnaRecord is one evaluated question inside a question set.
type QnaRecord struct {
	UUID         string         `json:"uuid"`
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	CategoryName string         `json:"category_name"`
	Flags        *SemanticFlags `json:"llm_flags,omitempty"`
}

// HasAnswer reports whether an answer has actually been generated.
func (r *QnaRecord) HasAnswer() bool {
	return r.Answer != "" && r.Answer != AnswerPending
}

// NeedsTagging reports whether this record should be sent to the tagger.
func (r *QnaRecord) NeedsTagging() bool {
	return r.HasAnswer() && r.Flags == nil
}

// QuestionSet is an ordered collection of QnaRecords sharing one
// brand-analysis context.
type QuestionSet struct {
	ID          uuid.UUID   `json:"question_set_id"`
	BrandName   string      `json:"brand_name"`
	WebsiteURL  string      `json:"website_url"`
	Context     string      `json:"context"`
	Nation      string      `json:"nation"`
	State       string      `json:"state"`
	Competitors []string    `json:"competitors"`
	Qna         []QnaRecord `json:"qna"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ZeroMentionSample captures a prompt whose answer never named the brand.
type ZeroMentionSample struct {
	Question      string `json:"question"`
	AnswerSnippet string `json:"answer_snippet"`
	CategoryName  string `json:"category_name"`
}

// SegmentMetrics holds the GEO metrics for one question segment
// (brand-agnostic or brand-included).
type SegmentMetrics struct {
	Description            string              `json:"description"`
	TotalPrompts           int                 `json:"total_prompts"`
	Mentions               int                 `json:"mentions"`
	BrandMentionRate       float64             `json:"brand_mention_rate"`
	Top3Mentions           int                 `json:"top_3_mentions"`
	Top3PositionRate       float64             `json:"top_3_position_rate"`
	RecommendationRate     float64             `json:"recommendation_rate"`
	PositiveSentimentRate  float64             `json:"positive_sentiment_rate"`
	CitationsExpected      int                 `json:"citations_expected"`
	FirstPartyCitations    int                 `json:"first_party_citations"`
	FirstPartyCitationRate float64             `json:"first_party_citation_rate"`
	ZeroMentionCount       int                 `json:"zero_mention_count"`
	ZeroMentionPrompts     []ZeroMentionSample `json:"zero_mention_prompts"`
}

// MetricsReport is the aggregation result for one question set at a point
// in time.
type MetricsReport struct {
	ID            uuid.UUID `json:"geo_metric_id"`
	QuestionSetID uuid.UUID `json:"question_set_id"`
	BrandName     string    `json:"brand_name"`
	TotalPrompts  int       `json:"total_prompts"`

	// UsingLLMFlags is true when at least one record carried semantic flags.
	// The per-path counts let consumers see exactly how much of the report
	// came from the heuristic fallback.
	UsingLLMFlags  bool `json:"using_llm_flags"`
	LLMTaggedCount int  `json:"llm_tagged_count"`
	HeuristicCount int  `json:"heuristic_count"`

	BrandAgnostic SegmentMetrics `json:"brand_agnostic_metrics"`
	BrandIncluded SegmentMetrics `json:"brand_included_metrics"`

	// Combined legacy view.
	TotalMentions    int     `json:"total_mentions"`
	BrandMentionRate float64 `json:"brand_mention_rate"`
	Top3Mentions     int     `json:"top_3_mentions"`
	Top3PositionRate float64 `json:"top_3_position_rate"`
	ZeroMentionCount int     `json:"zero_mention_count"`

	CompetitorMentions map[string]int `json:"competitor_mentions"`
	ComparisonPresence float64        `json:"comparison_presence"`
	BrandFeatures      []string       `json:"brand_features"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebsiteAnalysis is the inferred brand identity for a website.
type WebsiteAnalysis struct {
	BrandName string   `json:"brandName"`
	Niche     string   `json:"niche"`
	Purpose   string   `json:"purpose"`
	Services  []string `json:"services"`
}
