// workflows/website_analyzer.go
package workflows

import (
	"context"
	"fmt"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/geopulse/geo-workflows/services"
)

// WebsiteAnalyzeEvent bootstraps a new question set from a bare domain.
type WebsiteAnalyzeEvent struct {
	WebsiteURL  string   `json:"website_url"`
	Nation      string   `json:"nation"`
	State       string   `json:"state"`
	Context     string   `json:"context"`
	Competitors []string `json:"competitors"`
	TriggeredBy string   `json:"triggered_by"`
}

type WebsiteAnalyzer struct {
	analysisService services.AnalysisService
	setStore        services.QuestionSetStore
	client          inngestgo.Client
}

func NewWebsiteAnalyzer(analysisService services.AnalysisService, setStore services.QuestionSetStore) *WebsiteAnalyzer {
	return &WebsiteAnalyzer{
		analysisService: analysisService,
		setStore:        setStore,
	}
}

func (p *WebsiteAnalyzer) SetClient(client inngestgo.Client) {
	p.client = client
}

// AnalyzeWebsite infers the brand behind a domain, generates the question
// matrix, stores the new set, and hands it to the processing pipeline.
func (p *WebsiteAnalyzer) AnalyzeWebsite() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "analyze-website",
			Name: "Analyze Website and Build Question Set",
		},
		inngestgo.EventTrigger("geo/website.analyze", nil),
		func(ctx context.Context, input inngestgo.Input[WebsiteAnalyzeEvent]) (any, error) {
			data := input.Event.Data
			if data.WebsiteURL == "" {
				return nil, fmt.Errorf("website_url is required")
			}
			fmt.Printf("[AnalyzeWebsite] 🚀 Bootstrapping question set for %s\n", data.WebsiteURL)

			// Step 1: infer brand identity from the domain.
			analysis, err := step.Run(ctx, "analyze-website", func(ctx context.Context) (*models.WebsiteAnalysis, error) {
				return p.analysisService.AnalyzeWebsite(ctx, data.WebsiteURL, data.Nation, data.State, data.Context)
			})
			if err != nil {
				ReportPipelineFailureToSlack("website-analyzer", "", data.WebsiteURL, "analyze-website", err)
				return nil, fmt.Errorf("step 'analyze-website' failed: %w", err)
			}

			// Step 2: generate the question matrix and persist the set.
			setID, err := step.Run(ctx, "create-question-set", func(ctx context.Context) (string, error) {
				set := &models.QuestionSet{
					BrandName:   analysis.BrandName,
					WebsiteURL:  data.WebsiteURL,
					Context:     data.Context,
					Nation:      data.Nation,
					State:       data.State,
					Competitors: data.Competitors,
				}
				qna, err := p.analysisService.GenerateQuestions(ctx, analysis, set)
				if err != nil {
					return "", err
				}
				set.Qna = qna
				if err := p.setStore.Create(ctx, set); err != nil {
					return "", err
				}
				return set.ID.String(), nil
			})
			if err != nil {
				ReportPipelineFailureToSlack("website-analyzer", "", analysis.BrandName, "create-question-set", err)
				return nil, fmt.Errorf("step 'create-question-set' failed: %w", err)
			}

			// Step 3: hand off to the processing pipeline.
			_, err = step.Run(ctx, "trigger-processing", func(ctx context.Context) (interface{}, error) {
				return p.client.Send(ctx, inngestgo.Event{
					Name: "geo/question-set.process",
					Data: map[string]interface{}{
						"question_set_id": setID,
						"triggered_by":    "website-analyzer",
					},
				})
			})
			if err != nil {
				return nil, fmt.Errorf("step 'trigger-processing' failed: %w", err)
			}

			fmt.Printf("[AnalyzeWebsite] ✅ Question set %s created for %s\n", setID, analysis.BrandName)
			return map[string]interface{}{
				"status":          "completed",
				"question_set_id": setID,
				"brand_name":      analysis.BrandName,
				"niche":           analysis.Niche,
			}, nil
		},
	)

	if err != nil {
		fmt.Printf("Failed to create analyze-website function: %v\n", err)
	}
	return fn
}
