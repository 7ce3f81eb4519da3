// services/tagging_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/geopulse/geo-workflows/internal/config"
	"github.com/geopulse/geo-workflows/internal/jsonextract"
	"github.com/geopulse/geo-workflows/internal/models"
)

type taggingService struct {
	provider CompletionProvider
	rotator  *CredentialRotator
	store    QuestionSetStore
	cfg      *config.Config

	// One tagging session at a time. Sessions share the credential rotation
	// state, so interleaving two sets would let one set's quota exhaustion
	// scramble the other's cursor mid-walk.
	sessionMu sync.Mutex
}

// NewTaggingService creates the semantic tagging engine. The provider is
// expected to be the rotator's target so credential switches take effect on
// the next batch call.
func NewTaggingService(provider CompletionProvider, rotator *CredentialRotator, store QuestionSetStore, cfg *config.Config) TaggingService {
	return &taggingService{
		provider: provider,
		rotator:  rotator,
		store:    store,
		cfg:      cfg,
	}
}

// TagQuestionSet tags every answered-but-untagged record in the set, in
// batches, persisting a snapshot of the qna array after each batch so
// completed work survives quota exhaustion mid-set. Partial completion is a
// success: the summary says how far the session got.
func (s *taggingService) TagQuestionSet(ctx context.Context, set *models.QuestionSet) (*TaggingSummary, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if set == nil {
		return nil, fmt.Errorf("question set is nil")
	}
	if strings.TrimSpace(set.BrandName) == "" {
		return nil, fmt.Errorf("question set %s has no brand name", set.ID)
	}

	fmt.Printf("[TagQuestionSet] 🏷️ Starting tagging session for set %s (%s)\n", set.ID, set.BrandName)

	// Each session starts from the first credential. Quota windows reset
	// over time, so exhaustion in a previous session says nothing about now.
	s.rotator.ResetToFirst()

	summary := &TaggingSummary{
		TotalRecords:     len(set.Qna),
		ProcessingErrors: []string{},
	}

	var pending []int
	for i := range set.Qna {
		if set.Qna[i].Flags != nil {
			summary.AlreadyTagged++
			continue
		}
		if set.Qna[i].NeedsTagging() {
			pending = append(pending, i)
		}
	}

	fmt.Printf("[TagQuestionSet]   - Total records: %d\n", summary.TotalRecords)
	fmt.Printf("[TagQuestionSet]   - Already tagged: %d\n", summary.AlreadyTagged)
	fmt.Printf("[TagQuestionSet]   - Pending: %d\n", len(pending))

	if len(pending) == 0 {
		// Fast path: nothing to do, no provider calls, no writes.
		summary.CredentialsUsed = 1
		fmt.Printf("[TagQuestionSet] ✅ Nothing to tag, skipping provider calls\n")
		return summary, nil
	}

	batchSize := s.cfg.Tagging.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		batchNum := start/batchSize + 1

		exhausted, err := s.processBatch(ctx, set, batch, batchNum, summary)
		if exhausted {
			summary.Exhausted = true
			fmt.Printf("[TagQuestionSet] 🛑 Credentials exhausted at batch %d, stopping with partial results\n", batchNum)
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				summary.CredentialsUsed = s.rotator.CurrentIndex() + 1
				return summary, ctx.Err()
			}
			summary.SkippedBatches++
			summary.ProcessingErrors = append(summary.ProcessingErrors, fmt.Sprintf("batch %d: %v", batchNum, err))
			fmt.Printf("[TagQuestionSet] ⚠️ Skipping batch %d: %v\n", batchNum, err)
		}
	}

	summary.CredentialsUsed = s.rotator.CurrentIndex() + 1

	fmt.Printf("[TagQuestionSet] ✅ Session complete: %d newly tagged, %d batches skipped, %d credentials used, cost $%.4f\n",
		summary.NewlyTagged, summary.SkippedBatches, summary.CredentialsUsed, summary.TotalCost)
	return summary, nil
}

// processBatch tags the records at the given indices. It handles credential
// rotation internally: a quota failure persists the snapshot, switches keys
// and retries the same batch on the fresh credential. The bool return is
// true when the whole rotation is exhausted and the session must stop.
func (s *taggingService) processBatch(ctx context.Context, set *models.QuestionSet, indices []int, batchNum int, summary *TaggingSummary) (bool, error) {
	prompt := s.buildBatchPrompt(set, indices)

	for {
		result, err := s.completeWithRetry(ctx, prompt)
		if err != nil {
			if !s.rotator.IsQuotaError(err) {
				return false, err
			}

			// Quota hit: persist what this session has already tagged, then
			// move to the next credential and resubmit this same batch.
			fmt.Printf("[TagQuestionSet] 💳 Quota exhausted on credential %d: %v\n", s.rotator.CurrentIndex()+1, err)
			if persistErr := s.store.UpdateQna(ctx, set.ID, set.Qna); persistErr != nil {
				summary.ProcessingErrors = append(summary.ProcessingErrors,
					fmt.Sprintf("batch %d: snapshot persist before rotation failed: %v", batchNum, persistErr))
			}
			if !s.rotator.SwitchToNext() {
				return true, nil
			}
			continue
		}

		summary.TotalCost += result.Cost

		var tags []models.SemanticFlags
		if err := jsonextract.ExtractInto(result.Text, &tags); err != nil {
			return false, fmt.Errorf("unparsable tag response: %w", err)
		}

		// The response is positional. A count mismatch means the alignment
		// is unknowable, so none of the tags can be trusted.
		if len(tags) != len(indices) {
			return false, fmt.Errorf("tag count mismatch: got %d tags for %d records", len(tags), len(indices))
		}

		for i, idx := range indices {
			flags := tags[i]
			flags.Normalize()
			set.Qna[idx].Flags = &flags
		}
		summary.NewlyTagged += len(indices)

		if err := s.store.UpdateQna(ctx, set.ID, set.Qna); err != nil {
			return false, fmt.Errorf("snapshot persist failed: %w", err)
		}

		fmt.Printf("[TagQuestionSet] ✅ Batch %d tagged %d records\n", batchNum, len(indices))
		return false, nil
	}
}

// completeWithRetry performs one completion call, resubmitting exactly once
// when the provider flags a transient interception.
func (s *taggingService) completeWithRetry(ctx context.Context, prompt string) (*CompletionResult, error) {
	opts := CompletionOptions{
		Temperature: s.cfg.Tagging.Temperature,
		ExpectJSON:  true,
		MaxTokens:   4000,
	}

	result, err := s.provider.Complete(ctx, prompt, opts)
	if errors.Is(err, ErrRetryRequired) {
		fmt.Printf("[TagQuestionSet] 🔁 Transient interception, resubmitting batch once\n")
		result, err = s.provider.Complete(ctx, prompt, opts)
	}
	return result, err
}

func (s *taggingService) buildBatchPrompt(set *models.QuestionSet, indices []int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are analyzing AI assistant answers for brand visibility.\n\n")
	fmt.Fprintf(&b, "Brand: %s\n", set.BrandName)
	if set.WebsiteURL != "" {
		fmt.Fprintf(&b, "Brand website: %s\n", set.WebsiteURL)
	}
	if len(set.Competitors) > 0 {
		fmt.Fprintf(&b, "Known competitors: %s\n", strings.Join(set.Competitors, ", "))
	}

	fmt.Fprintf(&b, "\nFor each numbered item below, analyze the answer and produce one JSON object with exactly these fields:\n")
	fmt.Fprintf(&b, `{
  "brand_in_question": boolean, the question itself names the brand,
  "brand_mentioned": boolean, the answer mentions the brand,
  "brand_rank": integer position of the brand if the answer ranks or lists options, else null,
  "is_recommended": boolean, the answer actively recommends the brand,
  "sentiment": one of "positive", "neutral_positive", "neutral", "negative" toward the brand,
  "citation_type": one of "first_party", "third_party", "none",
  "citation_expected": boolean, a citation would be expected for this kind of answer,
  "features_mentioned": array of brand features or services the answer credits to the brand,
  "competitors_mentioned": array of competitor names appearing in the answer
}`)
	fmt.Fprintf(&b, "\n\nItems:\n")

	for i, idx := range indices {
		rec := set.Qna[idx]
		fmt.Fprintf(&b, "\n--- Item %d ---\n", i+1)
		fmt.Fprintf(&b, "Category: %s\n", rec.CategoryName)
		fmt.Fprintf(&b, "Question: %s\n", rec.Question)
		fmt.Fprintf(&b, "Answer: %s\n", truncateAnswer(rec.Answer, s.cfg.Tagging.AnswerCharCap))
	}

	fmt.Fprintf(&b, "\nReturn ONLY a JSON array of exactly %d objects, one per item, in the same order. No prose, no markdown fences.", len(indices))
	return b.String()
}

// truncateAnswer caps very long answers so one oversized answer cannot blow
// the context window for the whole batch.
func truncateAnswer(answer string, limit int) string {
	if limit <= 0 || len(answer) <= limit {
		return answer
	}
	return answer[:limit] + "\n[answer truncated]"
}
