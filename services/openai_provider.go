// services/openai_provider.go
package services

import (
	"context"
	"fmt"

	"github.com/geopulse/geo-workflows/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client      *openai.Client
	model       string
	costService CostService
}

func NewOpenAIProvider(cfg *config.Config, model string, costService CostService) OpenAIProvider {
	client := openai.NewClient(
		option.WithAPIKey(cfg.OpenAIAPIKey),
	)

	fmt.Printf("[NewOpenAIProvider] ✅ Using OpenAI\n")
	fmt.Printf("[NewOpenAIProvider]   - Model: %s\n", model)
	fmt.Printf("[NewOpenAIProvider]   - SDK: github.com/openai/openai-go\n")

	return &openAIProvider{
		client:      &client,
		model:       model,
		costService: costService,
	}
}

func (p *openAIProvider) Name() string {
	return "openai"
}

// CreateEmbedding embeds texts in one call. Callers are expected to keep
// batches under the API input limit.
func (p *openAIProvider) CreateEmbedding(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	response, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding creation failed: %w", err)
	}

	vectors := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		vector := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vector[j] = float32(v)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (p *openAIProvider) Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResult, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(p.model),
		Temperature: openai.Float(opts.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}

	if opts.Schema != nil {
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   name,
			Schema: opts.Schema,
			Strict: openai.Bool(true),
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		}
	} else if opts.ExpectJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	inputTokens := int(response.Usage.PromptTokens)
	outputTokens := int(response.Usage.CompletionTokens)

	return &CompletionResult{
		Text:         response.Choices[0].Message.Content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.costService.CalculateCost(p.Name(), p.model, inputTokens, outputTokens),
	}, nil
}
