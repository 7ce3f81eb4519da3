// services/gemini_provider.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/geopulse/geo-workflows/internal/config"
)

type geminiProvider struct {
	mu          sync.RWMutex
	apiKey      string
	model       string
	baseURL     string
	costService CostService
	httpClient  *http.Client
}

// NewGeminiProvider creates a provider for the Google Generative Language
// API. The API key is mutable at runtime so the credential rotator can swap
// it between batches without rebuilding the provider.
func NewGeminiProvider(cfg *config.Config, model string, costService CostService) KeyedCompletionProvider {
	fmt.Printf("[NewGeminiProvider] Creating Gemini provider\n")
	fmt.Printf("[NewGeminiProvider]   - Model: %s\n", model)
	fmt.Printf("[NewGeminiProvider]   - Credentials in rotation: %d\n", len(cfg.Tagging.GeminiAPIKeys))

	if len(cfg.Tagging.GeminiAPIKeys) == 0 {
		fmt.Printf("[NewGeminiProvider] ⚠️ WARNING: no Gemini API keys configured!\n")
	}

	p := &geminiProvider{
		model:       model,
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		costService: costService,
		httpClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
	if len(cfg.Tagging.GeminiAPIKeys) > 0 {
		p.apiKey = cfg.Tagging.GeminiAPIKeys[0]
	}
	return p
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

// UseAPIKey swaps the active credential. Safe to call concurrently with
// in-flight completions; requests already built keep the key they started
// with.
func (p *geminiProvider) UseAPIKey(key string) {
	p.mu.Lock()
	p.apiKey = key
	p.mu.Unlock()
	fmt.Printf("[GeminiProvider] 🔑 Active API key: %s\n", maskAPIKey(key))
}

func (p *geminiProvider) currentKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiKey
}

// Gemini generateContent request structures
type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *geminiProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResult, error) {
	key := p.currentKey()
	if key == "" {
		return nil, fmt.Errorf("gemini provider has no active API key")
	}

	genConfig := &geminiGenerationConfig{
		Temperature: &opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = opts.MaxTokens
	}
	if opts.ExpectJSON {
		genConfig.ResponseMimeType = "application/json"
	}

	payload := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: genConfig,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr geminiErrorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("gemini API returned status %d (%s): %s",
				resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp geminiGenerateResponse
	if err := json.Unmarshal(bodyBytes, &genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if genResp.PromptFeedback != nil && genResp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked the prompt: %s", genResp.PromptFeedback.BlockReason)
	}
	if len(genResp.Candidates) == 0 {
		// Empty candidates without a block reason is a transient upstream
		// hiccup; the caller may resubmit the same request once.
		fmt.Printf("[GeminiProvider] ⚠️ Empty candidates, flagging for retry\n")
		return nil, ErrRetryRequired
	}

	var text strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	result := &CompletionResult{Text: text.String()}
	if genResp.UsageMetadata != nil {
		result.InputTokens = genResp.UsageMetadata.PromptTokenCount
		result.OutputTokens = genResp.UsageMetadata.CandidatesTokenCount
		result.Cost = p.costService.CalculateCost(p.Name(), p.model, result.InputTokens, result.OutputTokens)
	}

	return result, nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
