package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

// OllamaProvider spreads chat requests over a farm of Ollama hosts.
type OllamaProvider struct {
	ollamafarm *ollamafarm.Farm
	logger     *Logger.Logger
}

func New(urls []string, logger *Logger.Logger) *OllamaProvider {
	farm := ollamafarm.New()

	for _, u := range urls {
		if err := farm.RegisterURL(u, nil); err != nil {
			logger.Warnf("failed to register ollama host %s: %v", u, err)
		}
	}

	return &OllamaProvider{
		ollamafarm: farm,
		logger:     logger,
	}
}

func (o *OllamaProvider) Chat(
	ctx context.Context,
	req api.ChatRequest,
	fn api.ChatResponseFunc,
) error {
	// pick first available client
	ollama := o.ollamafarm.First(&ollamafarm.Where{Offline: false})
	if ollama != nil {
		return ollama.Client().Chat(ctx, &req, fn)
	}
	return fmt.Errorf("no online ollama host for model %v", req.Model)
}
