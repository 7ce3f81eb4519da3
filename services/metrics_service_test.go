package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/google/uuid"
)

type memoryMetricsStore struct {
	latest    *models.MetricsReport
	inserts   []*models.MetricsReport
	updates   []*models.MetricsReport
	insertErr error
}

func (s *memoryMetricsStore) GetLatestForSet(ctx context.Context, questionSetID uuid.UUID) (*models.MetricsReport, error) {
	if s.latest == nil {
		return nil, ErrNotFound
	}
	return s.latest, nil
}

func (s *memoryMetricsStore) Insert(ctx context.Context, report *models.MetricsReport) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts = append(s.inserts, report)
	return nil
}

func (s *memoryMetricsStore) Update(ctx context.Context, report *models.MetricsReport) error {
	s.updates = append(s.updates, report)
	return nil
}

func intPtr(v int) *int { return &v }

func taggedRecord(question string, flags models.SemanticFlags) models.QnaRecord {
	return models.QnaRecord{
		UUID:         uuid.New().String(),
		Question:     question,
		Answer:       "A tagged answer.",
		CategoryName: "general",
		Flags:        &flags,
	}
}

func TestComputeMetricsLLMPath(t *testing.T) {
	// Five brand-agnostic prompts: 3 mentions, 2 of them top-3, 1
	// recommended, 2 positive, 2 citations expected with 1 first-party.
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme Robotics",
		Qna: []models.QnaRecord{
			taggedRecord("Best robot vendors?", models.SemanticFlags{
				BrandMentioned: true, BrandRank: intPtr(1), IsRecommended: true,
				Sentiment: models.SentimentPositive, CitationExpected: true,
				CitationType: models.CitationFirstParty,
			}),
			taggedRecord("Top automation companies?", models.SemanticFlags{
				BrandMentioned: true, BrandRank: intPtr(3),
				Sentiment: models.SentimentNeutralPositive, CitationExpected: true,
				CitationType: models.CitationThirdParty,
			}),
			taggedRecord("Who makes warehouse robots?", models.SemanticFlags{
				BrandMentioned: true, BrandRank: intPtr(7),
				Sentiment: models.SentimentNeutral, CitationType: models.CitationNone,
			}),
			taggedRecord("Cheapest robot arms?", models.SemanticFlags{
				Sentiment: models.SentimentNeutral, CitationType: models.CitationNone,
			}),
			taggedRecord("Robot maintenance guides?", models.SemanticFlags{
				Sentiment: models.SentimentNegative, CitationType: models.CitationNone,
			}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}

	if !report.UsingLLMFlags || report.LLMTaggedCount != 5 || report.HeuristicCount != 0 {
		t.Errorf("path accounting wrong: %+v", report)
	}

	seg := report.BrandAgnostic
	if seg.TotalPrompts != 5 {
		t.Fatalf("TotalPrompts = %d, want 5", seg.TotalPrompts)
	}
	if seg.Mentions != 3 || seg.BrandMentionRate != 60.0 {
		t.Errorf("mentions = %d rate %.2f, want 3 / 60.00", seg.Mentions, seg.BrandMentionRate)
	}
	if seg.Top3Mentions != 2 || seg.Top3PositionRate != 66.67 {
		t.Errorf("top3 = %d rate %.2f, want 2 / 66.67", seg.Top3Mentions, seg.Top3PositionRate)
	}
	if seg.RecommendationRate != 33.33 {
		t.Errorf("recommendation rate = %.2f, want 33.33", seg.RecommendationRate)
	}
	if seg.PositiveSentimentRate != 66.67 {
		t.Errorf("positive sentiment rate = %.2f, want 66.67", seg.PositiveSentimentRate)
	}
	if seg.CitationsExpected != 2 || seg.FirstPartyCitations != 1 || seg.FirstPartyCitationRate != 50.0 {
		t.Errorf("citations: %d expected, %d first-party, rate %.2f",
			seg.CitationsExpected, seg.FirstPartyCitations, seg.FirstPartyCitationRate)
	}
	if seg.ZeroMentionCount != 2 || len(seg.ZeroMentionPrompts) != 2 {
		t.Errorf("zero mentions: count %d, samples %d", seg.ZeroMentionCount, len(seg.ZeroMentionPrompts))
	}

	if report.BrandIncluded.TotalPrompts != 0 {
		t.Errorf("brand-included segment should be empty, got %d", report.BrandIncluded.TotalPrompts)
	}
}

func TestComputeMetricsSegmentSplit(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Is Acme any good?", models.SemanticFlags{
				BrandInQuestion: true, BrandMentioned: true,
			}),
			taggedRecord("Best vendors?", models.SemanticFlags{
				BrandMentioned: true,
			}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if report.BrandIncluded.TotalPrompts != 1 || report.BrandAgnostic.TotalPrompts != 1 {
		t.Errorf("segment split wrong: included %d, agnostic %d",
			report.BrandIncluded.TotalPrompts, report.BrandAgnostic.TotalPrompts)
	}
	if report.TotalMentions != 2 || report.BrandMentionRate != 100.0 {
		t.Errorf("combined view wrong: %d mentions rate %.2f", report.TotalMentions, report.BrandMentionRate)
	}
}

func TestComputeMetricsHeuristicFallback(t *testing.T) {
	set := &models.QuestionSet{
		ID:          uuid.New(),
		BrandName:   "Acme",
		WebsiteURL:  "https://acme.io",
		Competitors: []string{"Globex"},
		Qna: []models.QnaRecord{
			{
				UUID:     uuid.New().String(),
				Question: "Best robot vendors?",
				Answer:   "1. Acme is the leader\n2. Globex\n3. Initech\nSee https://acme.io for details.",
			},
			{
				UUID:     uuid.New().String(),
				Question: "Who else makes robots?",
				Answer:   "There are many vendors such as Globex and Initech.",
			},
			{
				UUID:     uuid.New().String(),
				Question: "Is Acme reliable?",
				Answer:   "Yes, Acme has a strong track record.",
			},
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if report.UsingLLMFlags || report.HeuristicCount != 3 {
		t.Errorf("path accounting wrong: %+v", report)
	}

	agnostic := report.BrandAgnostic
	if agnostic.TotalPrompts != 2 || agnostic.Mentions != 1 || agnostic.Top3Mentions != 1 {
		t.Errorf("agnostic segment: %+v", agnostic)
	}
	if agnostic.FirstPartyCitations != 1 {
		t.Errorf("first-party citations = %d, want 1 (URL in answer)", agnostic.FirstPartyCitations)
	}
	if report.BrandIncluded.TotalPrompts != 1 || report.BrandIncluded.Mentions != 1 {
		t.Errorf("included segment: %+v", report.BrandIncluded)
	}

	// Only the first record counts for Globex: the second answer never
	// mentions the brand and the third is in the included segment.
	if len(report.CompetitorMentions) != 1 || report.CompetitorMentions["Globex"] != 1 {
		t.Errorf("competitor mentions = %v, want map[Globex:1]", report.CompetitorMentions)
	}
	if report.ComparisonPresence != 100.0 {
		t.Errorf("comparison presence = %.2f, want 100.00", report.ComparisonPresence)
	}
}

func TestComputeMetricsMixedPaths(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Best vendors?", models.SemanticFlags{BrandMentioned: true}),
			{
				UUID:     uuid.New().String(),
				Question: "Other vendors?",
				Answer:   "Acme leads the market.",
			},
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if !report.UsingLLMFlags {
		t.Error("UsingLLMFlags should be true with at least one tagged record")
	}
	if report.LLMTaggedCount != 1 || report.HeuristicCount != 1 {
		t.Errorf("counts: llm %d heuristic %d", report.LLMTaggedCount, report.HeuristicCount)
	}
	if report.TotalMentions != 2 {
		t.Errorf("TotalMentions = %d, want 2", report.TotalMentions)
	}
}

func TestComputeMetricsSkipsPendingAnswers(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			{UUID: "a", Question: "Q1", Answer: models.AnswerPending},
			{UUID: "b", Question: "Q2", Answer: ""},
			taggedRecord("Q3", models.SemanticFlags{BrandMentioned: true}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if report.TotalPrompts != 1 {
		t.Errorf("TotalPrompts = %d, want 1 (pending and empty excluded)", report.TotalPrompts)
	}
}

func TestComputeMetricsEmptySet(t *testing.T) {
	set := &models.QuestionSet{ID: uuid.New(), BrandName: "Acme"}
	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	// Every rate must read 0, never NaN, with an empty denominator.
	if report.BrandMentionRate != 0 || report.Top3PositionRate != 0 || report.ComparisonPresence != 0 {
		t.Errorf("zero denominator should give zero rates: %+v", report)
	}
	if report.BrandAgnostic.FirstPartyCitationRate != 0 {
		t.Errorf("citation rate = %.2f, want 0", report.BrandAgnostic.FirstPartyCitationRate)
	}
}

func TestComputeMetricsMissingBrandName(t *testing.T) {
	set := &models.QuestionSet{ID: uuid.New(), BrandName: "   "}
	if _, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set); err == nil {
		t.Error("expected validation error for empty brand name")
	}
}

func TestComputeMetricsRoundsToTwoDecimals(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Q1", models.SemanticFlags{BrandMentioned: true}),
			taggedRecord("Q2", models.SemanticFlags{}),
			taggedRecord("Q3", models.SemanticFlags{}),
		},
	}
	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if report.BrandMentionRate != 33.33 {
		t.Errorf("rate = %v, want 33.33", report.BrandMentionRate)
	}
}

func TestComputeMetricsRankedScenario(t *testing.T) {
	// Three brand-included prompts all mentioned, one at rank 1; two
	// brand-agnostic prompts, one mentioned at rank 2.
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Is Acme good?", models.SemanticFlags{
				BrandInQuestion: true, BrandMentioned: true, BrandRank: intPtr(1),
			}),
			taggedRecord("Does Acme ship fast?", models.SemanticFlags{
				BrandInQuestion: true, BrandMentioned: true,
			}),
			taggedRecord("Acme vs others?", models.SemanticFlags{
				BrandInQuestion: true, BrandMentioned: true,
			}),
			taggedRecord("Best vendors?", models.SemanticFlags{
				BrandMentioned: true, BrandRank: intPtr(2),
			}),
			taggedRecord("Cheapest vendors?", models.SemanticFlags{}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}

	included := report.BrandIncluded
	if included.TotalPrompts != 3 || included.Mentions != 3 || included.Top3Mentions != 1 {
		t.Errorf("included counts: %+v", included)
	}
	if included.Top3PositionRate != 33.33 {
		t.Errorf("included top3 rate = %.2f, want 33.33", included.Top3PositionRate)
	}

	agnostic := report.BrandAgnostic
	if agnostic.TotalPrompts != 2 || agnostic.Mentions != 1 || agnostic.Top3Mentions != 1 {
		t.Errorf("agnostic counts: %+v", agnostic)
	}
	if agnostic.Top3PositionRate != 100.0 {
		t.Errorf("agnostic top3 rate = %.2f, want 100.00", agnostic.Top3PositionRate)
	}

	if report.TotalMentions != 4 || report.BrandMentionRate != 80.0 {
		t.Errorf("combined mentions: %d rate %.2f", report.TotalMentions, report.BrandMentionRate)
	}
	// Combined top-3 rate is over mentions, not prompts.
	if report.Top3Mentions != 2 || report.Top3PositionRate != 50.0 {
		t.Errorf("combined top3: %d rate %.2f, want 2 / 50.00", report.Top3Mentions, report.Top3PositionRate)
	}
}

func TestComputeMetricsComparisonPresence(t *testing.T) {
	set := &models.QuestionSet{
		ID:          uuid.New(),
		BrandName:   "Acme",
		Competitors: []string{"A", "B"},
		Qna: []models.QnaRecord{
			taggedRecord("Best vendors?", models.SemanticFlags{
				BrandMentioned: true, CompetitorsMentioned: []string{"A"},
			}),
			taggedRecord("Top picks?", models.SemanticFlags{
				BrandMentioned: true,
			}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if len(report.CompetitorMentions) != 1 || report.CompetitorMentions["A"] != 1 {
		t.Errorf("competitor mentions = %v, want map[A:1] with B filtered out", report.CompetitorMentions)
	}
	if report.ComparisonPresence != 50.0 {
		t.Errorf("comparison presence = %.2f, want 50.00", report.ComparisonPresence)
	}
}

func TestComputeMetricsComparisonPresenceNeedsAgnosticMentions(t *testing.T) {
	set := &models.QuestionSet{
		ID:          uuid.New(),
		BrandName:   "Acme",
		Competitors: []string{"A"},
		Qna: []models.QnaRecord{
			taggedRecord("Is Acme good?", models.SemanticFlags{
				BrandInQuestion: true, BrandMentioned: true, CompetitorsMentioned: []string{"A"},
			}),
			taggedRecord("Best vendors?", models.SemanticFlags{
				CompetitorsMentioned: []string{"A"},
			}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	// No agnostic mention, so there is nothing to compare against; and the
	// included-segment record must not have fed the competitor map.
	if len(report.CompetitorMentions) != 0 {
		t.Errorf("competitor mentions = %v, want empty", report.CompetitorMentions)
	}
	if report.ComparisonPresence != 0 {
		t.Errorf("comparison presence = %.2f, want 0", report.ComparisonPresence)
	}
}

func TestComputeMetricsUnmentionedRecordOnlySamples(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Best vendors?", models.SemanticFlags{
				BrandMentioned: false, BrandRank: intPtr(1), IsRecommended: true,
				Sentiment: models.SentimentPositive, CitationExpected: true,
				CitationType: models.CitationFirstParty, FeaturesMentioned: []string{"fast delivery"},
			}),
		},
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	seg := report.BrandAgnostic
	if seg.Top3Mentions != 0 || seg.RecommendationRate != 0 || seg.PositiveSentimentRate != 0 || seg.FirstPartyCitations != 0 {
		t.Errorf("unmentioned record leaked into mention counters: %+v", seg)
	}
	// Citation expectation is a property of the question, not the mention.
	if seg.CitationsExpected != 1 {
		t.Errorf("citations expected = %d, want 1", seg.CitationsExpected)
	}
	if len(report.BrandFeatures) != 0 {
		t.Errorf("features = %v, want none", report.BrandFeatures)
	}
	if seg.ZeroMentionCount != 1 || len(seg.ZeroMentionPrompts) != 1 {
		t.Errorf("zero mention accounting: %+v", seg)
	}
}

func TestComputeMetricsZeroMentionSampleCap(t *testing.T) {
	set := &models.QuestionSet{ID: uuid.New(), BrandName: "Acme"}
	for i := 0; i < 25; i++ {
		set.Qna = append(set.Qna, taggedRecord(fmt.Sprintf("Q%d", i), models.SemanticFlags{}))
	}

	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	if report.BrandAgnostic.ZeroMentionCount != 25 {
		t.Errorf("ZeroMentionCount = %d, want 25", report.BrandAgnostic.ZeroMentionCount)
	}
	if len(report.BrandAgnostic.ZeroMentionPrompts) != zeroMentionSampleCap {
		t.Errorf("samples = %d, want cap %d", len(report.BrandAgnostic.ZeroMentionPrompts), zeroMentionSampleCap)
	}
}

func TestComputeMetricsBrandFeaturesDeduped(t *testing.T) {
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna: []models.QnaRecord{
			taggedRecord("Q1", models.SemanticFlags{
				BrandMentioned: true, FeaturesMentioned: []string{"fast delivery", "support"},
			}),
			taggedRecord("Q2", models.SemanticFlags{
				BrandMentioned: true, FeaturesMentioned: []string{"support", "pricing"},
			}),
		},
	}
	report, err := NewMetricsService(&memoryMetricsStore{}).ComputeMetrics(set)
	if err != nil {
		t.Fatalf("ComputeMetrics failed: %v", err)
	}
	want := []string{"fast delivery", "support", "pricing"}
	if len(report.BrandFeatures) != len(want) {
		t.Fatalf("features = %v, want %v", report.BrandFeatures, want)
	}
	for i, feature := range want {
		if report.BrandFeatures[i] != feature {
			t.Errorf("features[%d] = %q, want %q", i, report.BrandFeatures[i], feature)
		}
	}
}

func TestComputeAndSaveInsertsWhenNoReport(t *testing.T) {
	store := &memoryMetricsStore{}
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna:       []models.QnaRecord{taggedRecord("Q", models.SemanticFlags{BrandMentioned: true})},
	}

	report, err := NewMetricsService(store).ComputeAndSave(context.Background(), set)
	if err != nil {
		t.Fatalf("ComputeAndSave failed: %v", err)
	}
	if len(store.inserts) != 1 || len(store.updates) != 0 {
		t.Errorf("inserts %d updates %d, want 1/0", len(store.inserts), len(store.updates))
	}
	if report.ID == uuid.Nil {
		t.Error("report should carry a fresh id")
	}
}

func TestComputeAndSaveUpdatesFreshReport(t *testing.T) {
	existingID := uuid.New()
	created := time.Now().UTC().Add(-2 * 24 * time.Hour)
	store := &memoryMetricsStore{
		latest: &models.MetricsReport{ID: existingID, CreatedAt: created},
	}
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna:       []models.QnaRecord{taggedRecord("Q", models.SemanticFlags{BrandMentioned: true})},
	}

	report, err := NewMetricsService(store).ComputeAndSave(context.Background(), set)
	if err != nil {
		t.Fatalf("ComputeAndSave failed: %v", err)
	}
	if len(store.updates) != 1 || len(store.inserts) != 0 {
		t.Errorf("inserts %d updates %d, want 0/1", len(store.inserts), len(store.updates))
	}
	if report.ID != existingID {
		t.Errorf("report id = %s, want existing %s", report.ID, existingID)
	}
	if !report.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %s", report.CreatedAt)
	}
}

func TestComputeAndSaveInsertsWhenStale(t *testing.T) {
	store := &memoryMetricsStore{
		latest: &models.MetricsReport{
			ID:        uuid.New(),
			CreatedAt: time.Now().UTC().Add(-8 * 24 * time.Hour),
		},
	}
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna:       []models.QnaRecord{taggedRecord("Q", models.SemanticFlags{BrandMentioned: true})},
	}

	report, err := NewMetricsService(store).ComputeAndSave(context.Background(), set)
	if err != nil {
		t.Fatalf("ComputeAndSave failed: %v", err)
	}
	if len(store.inserts) != 1 || len(store.updates) != 0 {
		t.Errorf("inserts %d updates %d, want 1/0", len(store.inserts), len(store.updates))
	}
	if report.ID == store.latest.ID {
		t.Error("stale report must not be updated in place")
	}
}

func TestComputeAndSaveReturnsReportOnPersistFailure(t *testing.T) {
	store := &memoryMetricsStore{insertErr: fmt.Errorf("connection reset")}
	set := &models.QuestionSet{
		ID:        uuid.New(),
		BrandName: "Acme",
		Qna:       []models.QnaRecord{taggedRecord("Q", models.SemanticFlags{BrandMentioned: true})},
	}

	report, err := NewMetricsService(store).ComputeAndSave(context.Background(), set)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if report == nil {
		t.Fatal("computed report must survive a persistence failure")
	}
	if report.BrandMentionRate != 100.0 {
		t.Errorf("rate = %.2f, want 100.00", report.BrandMentionRate)
	}
}

func TestHeuristicTop3(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"first in list", "1. Acme\n2. Globex\n3. Initech", true},
		{"third in list", "1. Globex\n2. Initech\n3. Acme", true},
		{"fourth in list", "1. Globex\n2. Initech\n3. Umbrella\n4. Acme", false},
		{"paren enumerator", "1) Acme is great\n2) Globex", true},
		{"dash bullets", "- Acme\n- Globex\n- Initech", true},
		{"asterisk bullets", "* Globex\n* Initech\n* Umbrella\n* Acme", false},
		{"restarted numbering", "1. Globex\n1. Initech\n1. Umbrella\n1. Acme", false},
		{"early prose mention", "Acme is the market leader among many robotics vendors worldwide today.", true},
		{"late prose mention", "Many robotics vendors exist around the world with varied offerings and pricing tiers to consider carefully. Acme.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heuristicTop3(tt.answer, "Acme"); got != tt.want {
				t.Errorf("heuristicTop3 = %t, want %t", got, tt.want)
			}
		})
	}
}
