package router

import (
	"context"
	"fmt"

	"github.com/xpanvictor/voicemode/pkg/assistant"
)

// DefaultRP honours an explicit provider on the input and otherwise
// falls back to a fixed one.
type DefaultRP struct {
	Fallback string
}

func (d *DefaultRP) Select(input assistant.AssistantInput) string {
	if input.Provider != "" {
		return input.Provider
	}
	return d.Fallback
}

func New(fallback string, packs ...AdapterPack) *Mux {
	adm := make(map[string]AdapterPack, len(packs))
	for _, p := range packs {
		adm[p.Name] = p
	}
	return &Mux{
		RouterPolicy: &DefaultRP{Fallback: fallback},
		AdapterMap:   adm,
	}
}

// Stream implements assistant.ChatStreamer by delegating to the selected
// provider, filling in its default model when the input has none.
func (m *Mux) Stream(ctx context.Context, input assistant.AssistantInput) (<-chan assistant.ResponseDelta, error) {
	name := m.RouterPolicy.Select(input)
	pack, ok := m.AdapterMap[name]
	if !ok {
		return nil, fmt.Errorf("no chat provider named %q", name)
	}
	if input.Model == "" {
		input.Model = pack.DefaultModel
	}
	input.Provider = name
	return pack.Adapter.Stream(ctx, input)
}
