// services/answer_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/geopulse/geo-workflows/internal/models"
)

type answerService struct {
	provider CompletionProvider
	store    QuestionSetStore
}

// NewAnswerService creates the answer generation pass. It asks the provider
// each pending question the way an end user would, with no brand context in
// the prompt, so the answers reflect what the assistant organically says.
func NewAnswerService(provider CompletionProvider, store QuestionSetStore) AnswerService {
	return &answerService{provider: provider, store: store}
}

func (s *answerService) RunUnanswered(ctx context.Context, set *models.QuestionSet) (*AnswerRunSummary, error) {
	if set == nil {
		return nil, fmt.Errorf("question set is nil")
	}

	summary := &AnswerRunSummary{
		TotalRecords:     len(set.Qna),
		ProcessingErrors: []string{},
	}

	pending := 0
	for i := range set.Qna {
		if !set.Qna[i].HasAnswer() {
			pending++
		}
	}
	fmt.Printf("[RunUnanswered] 💬 Answering %d pending questions for set %s\n", pending, set.ID)
	if pending == 0 {
		return summary, nil
	}

	for i := range set.Qna {
		rec := &set.Qna[i]
		if rec.HasAnswer() {
			continue
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		result, err := s.provider.Complete(ctx, s.buildAskPrompt(rec.Question, set), CompletionOptions{
			Temperature: analysisTemperature,
			MaxTokens:   2000,
		})
		if err != nil {
			summary.Failed++
			summary.ProcessingErrors = append(summary.ProcessingErrors,
				fmt.Sprintf("question %s: %v", rec.UUID, err))
			fmt.Printf("[RunUnanswered] ⚠️ Question %s failed: %v\n", rec.UUID, err)
			continue
		}
		if strings.TrimSpace(result.Text) == "" {
			summary.Failed++
			summary.ProcessingErrors = append(summary.ProcessingErrors,
				fmt.Sprintf("question %s: empty answer", rec.UUID))
			continue
		}

		rec.Answer = result.Text
		summary.Answered++
		summary.TotalCost += result.Cost

		// Persist per record: answers are expensive and a crash mid-run
		// must not lose the ones already generated.
		if err := s.store.UpdateRecord(ctx, set.ID, *rec); err != nil {
			summary.ProcessingErrors = append(summary.ProcessingErrors,
				fmt.Sprintf("question %s: persist failed: %v", rec.UUID, err))
		}
	}

	fmt.Printf("[RunUnanswered] ✅ Answered %d, failed %d, cost $%.4f\n",
		summary.Answered, summary.Failed, summary.TotalCost)
	return summary, nil
}

func (s *answerService) buildAskPrompt(question string, set *models.QuestionSet) string {
	if set.Nation == "" {
		return question
	}
	location := set.Nation
	if set.State != "" {
		location = set.State + ", " + set.Nation
	}
	return fmt.Sprintf("Ensure your response is localized to %s. Answer the following question: %s",
		location, question)
}
