// services/metrics_service.go
package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/google/uuid"
)

// zeroMentionSampleCap bounds the example prompts stored per segment so a
// large set with poor visibility does not bloat the report document.
const zeroMentionSampleCap = 10

// metricsFreshnessWindow is how long a stored report keeps being updated in
// place before a new time-series entry is created.
const metricsFreshnessWindow = 7 * 24 * time.Hour

type metricsService struct {
	store MetricsStore
}

func NewMetricsService(store MetricsStore) MetricsService {
	return &metricsService{store: store}
}

// recordSignals is the per-record reduction both aggregation paths produce.
// The LLM path reads stored semantic flags; the heuristic path derives a
// best-effort subset from the raw answer text.
type recordSignals struct {
	brandInQuestion  bool
	mentioned        bool
	top3             bool
	recommended      bool
	positive         bool
	citationExpected bool
	firstParty       bool
	competitors      []string
	features         []string
	fromLLM          bool
}

func (s *metricsService) ComputeMetrics(set *models.QuestionSet) (*models.MetricsReport, error) {
	if set == nil {
		return nil, fmt.Errorf("question set is nil")
	}
	brand := strings.TrimSpace(set.BrandName)
	if brand == "" {
		return nil, fmt.Errorf("question set %s has no brand name", set.ID)
	}

	fmt.Printf("[ComputeMetrics] 📊 Aggregating set %s (%s), %d records\n", set.ID, brand, len(set.Qna))

	report := &models.MetricsReport{
		ID:                 uuid.New(),
		QuestionSetID:      set.ID,
		BrandName:          brand,
		CompetitorMentions: map[string]int{},
		BrandFeatures:      []string{},
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	var agnostic, included segmentAccumulator
	agnostic.description = "Prompts that do not name the brand"
	included.description = "Prompts that explicitly name the brand"

	featureSet := map[string]bool{}

	for i := range set.Qna {
		rec := &set.Qna[i]
		if !rec.HasAnswer() {
			continue
		}
		report.TotalPrompts++

		var sig recordSignals
		if rec.Flags != nil {
			sig = signalsFromFlags(rec)
			report.LLMTaggedCount++
		} else {
			sig = signalsFromHeuristics(rec, set)
			report.HeuristicCount++
		}

		seg := &agnostic
		if sig.brandInQuestion {
			seg = &included
		}
		seg.add(rec, sig)

		// Feature and competitor signals only count for answers that actually
		// mention the brand; competitor counts further restrict to the
		// agnostic segment. The mentions map only ever holds names that were
		// seen, so absent competitors never appear with a zero count.
		if !sig.mentioned {
			continue
		}
		if !sig.brandInQuestion {
			for _, competitor := range set.Competitors {
				if containsName(sig.competitors, competitor) {
					report.CompetitorMentions[competitor]++
				}
			}
		}
		for _, feature := range sig.features {
			if feature = strings.TrimSpace(feature); feature != "" && !featureSet[feature] {
				featureSet[feature] = true
				report.BrandFeatures = append(report.BrandFeatures, feature)
			}
		}
	}

	report.UsingLLMFlags = report.LLMTaggedCount > 0
	report.BrandAgnostic = agnostic.finalize()
	report.BrandIncluded = included.finalize()

	// Combined legacy view over both segments.
	report.TotalMentions = agnostic.mentions + included.mentions
	report.Top3Mentions = agnostic.top3 + included.top3
	report.ZeroMentionCount = agnostic.zeroMentions() + included.zeroMentions()
	report.BrandMentionRate = rate(report.TotalMentions, report.TotalPrompts)
	report.Top3PositionRate = rate(report.Top3Mentions, report.TotalMentions)

	// Share of the supplied competitor list that got at least one mention.
	// Meaningless without a competitor list or without any organic brand
	// visibility to compare against, so it stays 0 in those cases.
	if len(set.Competitors) > 0 && agnostic.mentions > 0 {
		report.ComparisonPresence = rate(len(report.CompetitorMentions), len(set.Competitors))
	}

	fmt.Printf("[ComputeMetrics] ✅ %d prompts (%d LLM-tagged, %d heuristic), mention rate %.2f\n",
		report.TotalPrompts, report.LLMTaggedCount, report.HeuristicCount, report.BrandMentionRate)
	return report, nil
}

// ComputeAndSave persists under the freshness policy: a report younger than
// the window is updated in place, otherwise a new entry starts the next
// point in the time series. The computed report is returned even when the
// write fails so callers can still surface it.
func (s *metricsService) ComputeAndSave(ctx context.Context, set *models.QuestionSet) (*models.MetricsReport, error) {
	report, err := s.ComputeMetrics(set)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.GetLatestForSet(ctx, set.ID)
	if err != nil && err != ErrNotFound {
		return report, fmt.Errorf("failed to load latest report: %w", err)
	}

	if latest != nil && time.Since(latest.CreatedAt) < metricsFreshnessWindow {
		report.ID = latest.ID
		report.CreatedAt = latest.CreatedAt
		report.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, report); err != nil {
			return report, fmt.Errorf("failed to update report: %w", err)
		}
		fmt.Printf("[ComputeAndSave] ♻️ Updated report %s in place\n", report.ID)
		return report, nil
	}

	if err := s.store.Insert(ctx, report); err != nil {
		return report, fmt.Errorf("failed to insert report: %w", err)
	}
	fmt.Printf("[ComputeAndSave] 🆕 Inserted report %s\n", report.ID)
	return report, nil
}

// segmentAccumulator collects counters for one question segment.
type segmentAccumulator struct {
	description      string
	total            int
	mentions         int
	top3             int
	recommended      int
	positive         int
	citationExpected int
	firstParty       int
	zeroSamples      []models.ZeroMentionSample
}

func (a *segmentAccumulator) add(rec *models.QnaRecord, sig recordSignals) {
	a.total++
	if sig.citationExpected {
		a.citationExpected++
	}

	// Everything below describes the brand's appearance in the answer, so an
	// unmentioned record contributes nothing but a zero-mention sample even
	// when the tagger set other flags on it.
	if !sig.mentioned {
		if len(a.zeroSamples) < zeroMentionSampleCap {
			a.zeroSamples = append(a.zeroSamples, models.ZeroMentionSample{
				Question:      rec.Question,
				AnswerSnippet: snippet(rec.Answer, 200),
				CategoryName:  rec.CategoryName,
			})
		}
		return
	}

	a.mentions++
	if sig.top3 {
		a.top3++
	}
	if sig.recommended {
		a.recommended++
	}
	if sig.positive {
		a.positive++
	}
	if sig.firstParty {
		a.firstParty++
	}
}

func (a *segmentAccumulator) zeroMentions() int {
	return a.total - a.mentions
}

func (a *segmentAccumulator) finalize() models.SegmentMetrics {
	samples := a.zeroSamples
	if samples == nil {
		samples = []models.ZeroMentionSample{}
	}
	return models.SegmentMetrics{
		Description:            a.description,
		TotalPrompts:           a.total,
		Mentions:               a.mentions,
		BrandMentionRate:       rate(a.mentions, a.total),
		Top3Mentions:           a.top3,
		Top3PositionRate:       rate(a.top3, a.mentions),
		RecommendationRate:     rate(a.recommended, a.mentions),
		PositiveSentimentRate:  rate(a.positive, a.mentions),
		CitationsExpected:      a.citationExpected,
		FirstPartyCitations:    a.firstParty,
		FirstPartyCitationRate: rate(a.firstParty, a.citationExpected),
		ZeroMentionCount:       a.zeroMentions(),
		ZeroMentionPrompts:     samples,
	}
}

func signalsFromFlags(rec *models.QnaRecord) recordSignals {
	flags := rec.Flags
	return recordSignals{
		brandInQuestion:  flags.BrandInQuestion,
		mentioned:        flags.BrandMentioned,
		top3:             flags.BrandRank != nil && *flags.BrandRank <= 3,
		recommended:      flags.IsRecommended,
		positive:         flags.Sentiment == models.SentimentPositive || flags.Sentiment == models.SentimentNeutralPositive,
		citationExpected: flags.CitationExpected,
		firstParty:       flags.CitationType == models.CitationFirstParty,
		competitors:      flags.CompetitorsMentioned,
		features:         flags.FeaturesMentioned,
		fromLLM:          true,
	}
}

// enumeratorLineRe matches list lines like "1. Acme", "2) Acme", "- Acme"
// or "* Acme".
var enumeratorLineRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s`)

// signalsFromHeuristics derives what it can from raw text for records the
// tagger never reached. Sentiment, recommendation, and citation judgments
// need the model, so those stay conservative defaults here.
func signalsFromHeuristics(rec *models.QnaRecord, set *models.QuestionSet) recordSignals {
	sig := recordSignals{
		brandInQuestion: containsFold(rec.Question, set.BrandName),
		mentioned:       containsFold(rec.Answer, set.BrandName),
	}
	if sig.mentioned {
		sig.top3 = heuristicTop3(rec.Answer, set.BrandName)
	}
	if set.WebsiteURL != "" && containsFold(rec.Answer, stripScheme(set.WebsiteURL)) {
		sig.firstParty = true
	}
	for _, competitor := range set.Competitors {
		if containsFold(rec.Answer, competitor) {
			sig.competitors = append(sig.competitors, competitor)
		}
	}
	return sig
}

// heuristicTop3 reports whether the brand appears in the top three of a
// listed answer. List items are counted by position rather than by their
// printed enumerator, which keeps restarted or zero-based numbering honest;
// answers without any list fall back to a position check, counting a first
// occurrence inside the leading 30% of the text.
func heuristicTop3(answer, brand string) bool {
	var listed []string
	for _, line := range strings.Split(answer, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if enumeratorLineRe.MatchString(line) {
			listed = append(listed, line)
		}
	}
	if len(listed) > 0 {
		for i, line := range listed {
			if i >= 3 {
				break
			}
			if containsFold(line, brand) {
				return true
			}
		}
		return false
	}

	idx := strings.Index(strings.ToLower(answer), strings.ToLower(brand))
	if idx < 0 || len(answer) == 0 {
		return false
	}
	return float64(idx) < float64(len(answer))*0.3
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func containsName(names []string, target string) bool {
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), target) {
			return true
		}
	}
	return false
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "www.")
	return strings.TrimSuffix(url, "/")
}

func snippet(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// rate returns numerator/denominator as a percentage rounded to two
// decimals, with an empty denominator reading as zero rather than NaN.
func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100*100) / 100
}
