// services/analysis_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/geopulse/geo-workflows/internal/jsonextract"
	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/google/uuid"
)

type analysisService struct {
	provider CompletionProvider
}

// NewAnalysisService creates the website analysis and question generation
// service. Analysis runs at the default creative temperature rather than
// the tagging one; these are open-ended generation calls.
func NewAnalysisService(provider CompletionProvider) AnalysisService {
	return &analysisService{provider: provider}
}

const analysisTemperature = 0.7

func (s *analysisService) AnalyzeWebsite(ctx context.Context, domain, nation, state, queryContext string) (*models.WebsiteAnalysis, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	fmt.Printf("[AnalyzeWebsite] 🔍 Analyzing %s\n", domain)

	prompt := fmt.Sprintf(`Analyze the website %s and infer the brand behind it.

Return ONLY a JSON object with exactly these fields:
{
  "brandName": the brand or company name,
  "niche": the market niche in a few words,
  "purpose": one sentence describing what the business does,
  "services": array of the main services or product lines
}`, domain)
	if nation != "" {
		prompt += fmt.Sprintf("\n\nThe business operates in %s", nation)
		if state != "" {
			prompt += fmt.Sprintf(" (%s)", state)
		}
		prompt += "."
	}
	if queryContext != "" {
		prompt += fmt.Sprintf("\nAdditional context from the operator: %s", queryContext)
	}

	result, err := s.provider.Complete(ctx, prompt, CompletionOptions{
		Temperature: analysisTemperature,
		ExpectJSON:  true,
		MaxTokens:   1000,
		Schema:      GenerateSchema[models.WebsiteAnalysis](),
		SchemaName:  "website_analysis",
	})
	if err != nil {
		return nil, fmt.Errorf("website analysis failed: %w", err)
	}

	var analysis models.WebsiteAnalysis
	if err := jsonextract.ExtractInto(result.Text, &analysis); err != nil {
		// The pipeline can still run on a best guess derived from the
		// domain itself; a missing niche just weakens question quality.
		fmt.Printf("[AnalyzeWebsite] ⚠️ Unparsable analysis, falling back to domain-derived guess: %v\n", err)
		return fallbackAnalysis(domain), nil
	}
	if strings.TrimSpace(analysis.BrandName) == "" {
		analysis.BrandName = fallbackAnalysis(domain).BrandName
	}
	if analysis.Services == nil {
		analysis.Services = []string{}
	}

	fmt.Printf("[AnalyzeWebsite] ✅ %s (%s)\n", analysis.BrandName, analysis.Niche)
	return &analysis, nil
}

// fallbackAnalysis derives a minimal brand identity from the domain name
// alone: "acme-robotics.com" becomes "Acme Robotics".
func fallbackAnalysis(domain string) *models.WebsiteAnalysis {
	name := stripScheme(domain)
	if idx := strings.Index(name, "/"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.Index(name, "."); idx >= 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return &models.WebsiteAnalysis{
		BrandName: strings.Join(words, " "),
		Services:  []string{},
	}
}

// questionMatrix is the generation response shape: category name to the
// questions under it.
type questionMatrix map[string][]string

func (s *analysisService) GenerateQuestions(ctx context.Context, analysis *models.WebsiteAnalysis, set *models.QuestionSet) ([]models.QnaRecord, error) {
	if analysis == nil {
		return nil, fmt.Errorf("website analysis is required")
	}

	fmt.Printf("[GenerateQuestions] 📝 Generating question matrix for %s\n", analysis.BrandName)

	var b strings.Builder
	fmt.Fprintf(&b, "You are building a question matrix to measure how visible a brand is in AI assistant answers.\n\n")
	fmt.Fprintf(&b, "Brand: %s\n", analysis.BrandName)
	fmt.Fprintf(&b, "Niche: %s\n", analysis.Niche)
	fmt.Fprintf(&b, "Purpose: %s\n", analysis.Purpose)
	if len(analysis.Services) > 0 {
		fmt.Fprintf(&b, "Services: %s\n", strings.Join(analysis.Services, ", "))
	}
	if set.Nation != "" {
		fmt.Fprintf(&b, "Market: %s", set.Nation)
		if set.State != "" {
			fmt.Fprintf(&b, ", %s", set.State)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `
Generate realistic questions a potential customer would ask an AI assistant. Most questions must NOT name the brand; they probe whether the assistant surfaces it organically. Include a small minority that name the brand directly.

Return ONLY a JSON object mapping single-word PascalCase category names to arrays of 4-6 question strings, for example:
{"Discovery": ["...", "..."], "Comparison": ["..."], "Trust": ["..."]}`)

	result, err := s.provider.Complete(ctx, b.String(), CompletionOptions{
		Temperature: analysisTemperature,
		ExpectJSON:  true,
		MaxTokens:   3000,
	})
	if err != nil {
		return nil, fmt.Errorf("question generation failed: %w", err)
	}

	var matrix questionMatrix
	if err := jsonextract.ExtractInto(result.Text, &matrix); err != nil {
		return nil, fmt.Errorf("unparsable question matrix: %w", err)
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("question generation returned no categories")
	}

	var records []models.QnaRecord
	for category, questions := range matrix {
		for _, question := range questions {
			if question = strings.TrimSpace(question); question == "" {
				continue
			}
			records = append(records, models.QnaRecord{
				UUID:         uuid.New().String(),
				Question:     question,
				Answer:       models.AnswerPending,
				CategoryName: category,
			})
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("question generation returned no questions")
	}

	fmt.Printf("[GenerateQuestions] ✅ %d questions across %d categories\n", len(records), len(matrix))
	return records, nil
}
