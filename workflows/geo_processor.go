// workflows/geo_processor.go
package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/geopulse/geo-workflows/internal/config"
	"github.com/geopulse/geo-workflows/services"
)

// QuestionSetProcessEvent triggers the full pipeline for one question set:
// answer generation, semantic tagging, metrics aggregation, indexing.
type QuestionSetProcessEvent struct {
	QuestionSetID string `json:"question_set_id"`
	TriggeredBy   string `json:"triggered_by"`
}

type GeoProcessor struct {
	setStore       services.QuestionSetStore
	answerService  services.AnswerService
	taggingService services.TaggingService
	metricsService services.MetricsService
	indexService   services.AnswerIndexService
	cfg            *config.Config
	client         inngestgo.Client
}

func NewGeoProcessor(
	setStore services.QuestionSetStore,
	answerService services.AnswerService,
	taggingService services.TaggingService,
	metricsService services.MetricsService,
	indexService services.AnswerIndexService,
	cfg *config.Config,
) *GeoProcessor {
	return &GeoProcessor{
		setStore:       setStore,
		answerService:  answerService,
		taggingService: taggingService,
		metricsService: metricsService,
		indexService:   indexService,
		cfg:            cfg,
	}
}

func (p *GeoProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// ProcessQuestionSet runs the pipeline. Each step reloads the set from the
// store instead of passing it through step outputs: answer and tag steps
// persist as they go, so the store is the source of truth between retries.
func (p *GeoProcessor) ProcessQuestionSet() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "process-question-set",
			Name: "Process GEO Question Set",
		},
		inngestgo.EventTrigger("geo/question-set.process", nil),
		func(ctx context.Context, input inngestgo.Input[QuestionSetProcessEvent]) (any, error) {
			setID, err := uuid.Parse(input.Event.Data.QuestionSetID)
			if err != nil {
				return nil, fmt.Errorf("invalid question_set_id %q: %w", input.Event.Data.QuestionSetID, err)
			}
			fmt.Printf("[ProcessQuestionSet] 🚀 Pipeline start for set %s (triggered by %s)\n", setID, input.Event.Data.TriggeredBy)

			// Step 1: confirm the set exists and capture its identity.
			brandName, err := step.Run(ctx, "load-question-set", func(ctx context.Context) (string, error) {
				set, err := p.setStore.GetByID(ctx, setID)
				if err != nil {
					return "", err
				}
				return set.BrandName, nil
			})
			if err != nil {
				ReportPipelineFailureToSlack("geo-processor", setID.String(), "", "load-question-set", err)
				return nil, fmt.Errorf("step 'load-question-set' failed: %w", err)
			}

			// Step 2: generate answers for records still pending.
			answerSummary, err := step.Run(ctx, "generate-answers", func(ctx context.Context) (*services.AnswerRunSummary, error) {
				set, err := p.setStore.GetByID(ctx, setID)
				if err != nil {
					return nil, err
				}
				return p.answerService.RunUnanswered(ctx, set)
			})
			if err != nil {
				ReportPipelineFailureToSlack("geo-processor", setID.String(), brandName, "generate-answers", err)
				return nil, fmt.Errorf("step 'generate-answers' failed: %w", err)
			}

			// Step 3: semantic tagging. Partial completion (credential
			// exhaustion) is a valid outcome; the metrics step falls back to
			// heuristics for whatever stayed untagged.
			tagSummary, err := step.Run(ctx, "tag-records", func(ctx context.Context) (*services.TaggingSummary, error) {
				set, err := p.setStore.GetByID(ctx, setID)
				if err != nil {
					return nil, err
				}
				return p.taggingService.TagQuestionSet(ctx, set)
			})
			if err != nil {
				ReportPipelineFailureToSlack("geo-processor", setID.String(), brandName, "tag-records", err)
				return nil, fmt.Errorf("step 'tag-records' failed: %w", err)
			}
			if tagSummary.Exhausted {
				ReportErrorToSlack(fmt.Errorf(
					"tagging credentials exhausted for set %s (%s): %d tagged, %d batches skipped",
					setID, brandName, tagSummary.NewlyTagged, tagSummary.SkippedBatches))
			}

			// Step 4: aggregate into a metrics report. A persistence failure
			// is reported but does not discard the computed report; only a
			// compute failure kills the pipeline.
			report, err := step.Run(ctx, "compute-metrics", func(ctx context.Context) (map[string]interface{}, error) {
				set, err := p.setStore.GetByID(ctx, setID)
				if err != nil {
					return nil, err
				}
				r, saveErr := p.metricsService.ComputeAndSave(ctx, set)
				if r == nil {
					return nil, saveErr
				}
				saved := saveErr == nil
				if saveErr != nil {
					fmt.Printf("[ProcessQuestionSet] ⚠️ Metrics save failed for set %s: %v\n", setID, saveErr)
					ReportPipelineFailureToSlack("geo-processor", setID.String(), brandName, "save-metrics", saveErr)
				}
				return map[string]interface{}{
					"geo_metric_id":      r.ID.String(),
					"total_prompts":      r.TotalPrompts,
					"brand_mention_rate": r.BrandMentionRate,
					"top_3_rate":         r.Top3PositionRate,
					"using_llm_flags":    r.UsingLLMFlags,
					"saved":              saved,
				}, nil
			})
			if err != nil {
				ReportPipelineFailureToSlack("geo-processor", setID.String(), brandName, "compute-metrics", err)
				return nil, fmt.Errorf("step 'compute-metrics' failed: %w", err)
			}

			// Step 5: push tagged answers into the search indexes. Index
			// trouble must not fail the pipeline; the report is already saved.
			indexed, err := step.Run(ctx, "index-answers", func(ctx context.Context) (int, error) {
				if p.indexService == nil {
					return 0, nil
				}
				set, err := p.setStore.GetByID(ctx, setID)
				if err != nil {
					return 0, err
				}
				return p.indexService.IndexTaggedAnswers(ctx, set)
			})
			if err != nil {
				fmt.Printf("[ProcessQuestionSet] ⚠️ Indexing failed for set %s: %v\n", setID, err)
				ReportPipelineFailureToSlack("geo-processor", setID.String(), brandName, "index-answers", err)
				indexed = 0
			}

			fmt.Printf("[ProcessQuestionSet] ✅ Pipeline complete for set %s\n", setID)
			return map[string]interface{}{
				"status":           "completed",
				"question_set_id":  setID.String(),
				"brand_name":       brandName,
				"answered":         answerSummary.Answered,
				"answer_failures":  answerSummary.Failed,
				"newly_tagged":     tagSummary.NewlyTagged,
				"skipped_batches":  tagSummary.SkippedBatches,
				"credentials_used": tagSummary.CredentialsUsed,
				"exhausted":        tagSummary.Exhausted,
				"metrics":          report,
				"answers_indexed":  indexed,
			}, nil
		},
	)

	if err != nil {
		fmt.Printf("Failed to create process-question-set function: %v\n", err)
	}
	return fn
}
