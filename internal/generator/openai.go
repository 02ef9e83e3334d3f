package generator

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

const packagingPromptTemplate = "High quality product photography of a premium packaging design: %s. " +
	"Modern, sleek, industrial aesthetic, bold typography. Physical product box or pouch on clean background. " +
	"Studio lighting, 4k, photorealistic, professional product shot."

// EnhancePrompt wraps a customer prompt in the packaging photography brief.
func EnhancePrompt(prompt string) string {
	return fmt.Sprintf(packagingPromptTemplate, prompt)
}

// OpenAIConfig configures the OpenAI image provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

// OpenAI generates designs with the OpenAI images API and returns them as
// inline PNG data URLs.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI image generator.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) Result {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         EnhancePrompt(prompt),
		Model:          o.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		Quality:        openai.CreateImageQualityStandard,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		o.logger.Warn("OpenAI image generation failed", "error", err)
		return Failed(fmt.Sprintf("openai: %v", err))
	}
	if len(resp.Data) == 0 {
		return Failed("openai returned no images")
	}

	img := resp.Data[0]
	switch {
	case img.B64JSON != "":
		return Result{Success: true, ImageURL: "data:image/png;base64," + img.B64JSON}
	case img.URL != "":
		return Result{Success: true, ImageURL: img.URL}
	}
	return Failed("openai returned an empty image")
}
