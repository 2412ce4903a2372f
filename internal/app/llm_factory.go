package app

import (
	"context"
	"fmt"

	"github.com/xpanvictor/voicemode/internal/config"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	geminiAdapter "github.com/xpanvictor/voicemode/pkg/assistant/adapters/gemini"
	ollamaAdapter "github.com/xpanvictor/voicemode/pkg/assistant/adapters/ollama"
	"github.com/xpanvictor/voicemode/pkg/assistant/providers/gemini"
	"github.com/xpanvictor/voicemode/pkg/assistant/providers/ollama"
	"github.com/xpanvictor/voicemode/pkg/assistant/router"
)

// LLMRouterFactory builds the chat router from settings. The configured
// provider is the fallback; the others are registered when they have
// enough configuration to run.
type LLMRouterFactory struct {
	config *config.Settings
	logger *Logger.Logger

	closers []func() error
}

func NewLLMRouterFactory(cfg *config.Settings, logger *Logger.Logger) *LLMRouterFactory {
	return &LLMRouterFactory{
		config: cfg,
		logger: logger,
	}
}

// CreateRouter creates the chat router with every usable provider
func (f *LLMRouterFactory) CreateRouter(ctx context.Context) (*router.Mux, error) {
	chat := f.config.Chat
	var packs []router.AdapterPack

	packs = append(packs, router.AdapterPack{
		Name: "openai",
		Adapter: assistant.NewOpenAIAssistant(assistant.OpenAIConfig{
			BaseURL: f.config.Inference.BaseURL,
			APIKey:  f.config.Inference.APIKey,
		}, f.logger.Named("openai")),
		DefaultModel: chat.Model,
	})

	if len(chat.OllamaURLs) > 0 {
		provider := ollama.New(chat.OllamaURLs, f.logger.Named("ollama"))
		packs = append(packs, router.AdapterPack{
			Name:         "ollama",
			Adapter:      ollamaAdapter.New(provider, f.logger.Named("ollama")),
			DefaultModel: chat.OllamaModel,
		})
	}

	if chat.GeminiAPIKey != "" {
		provider, err := gemini.New(ctx, chat.GeminiAPIKey, f.logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		f.closers = append(f.closers, provider.Close)
		packs = append(packs, router.AdapterPack{
			Name:         "gemini",
			Adapter:      geminiAdapter.New(provider, f.logger.Named("gemini")),
			DefaultModel: chat.GeminiModel,
		})
	}

	mux := router.New(chat.Provider, packs...)
	if _, ok := mux.AdapterMap[chat.Provider]; !ok {
		return nil, fmt.Errorf("chat provider %q is not configured", chat.Provider)
	}
	f.logger.Infof("chat router created with %d provider(s), default %s", len(packs), chat.Provider)
	return mux, nil
}

// Close releases provider clients created by CreateRouter.
func (f *LLMRouterFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
