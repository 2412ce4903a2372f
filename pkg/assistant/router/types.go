package router

import "github.com/xpanvictor/voicemode/pkg/assistant"

type AdapterPack struct {
	Adapter      assistant.ChatStreamer
	Name         string
	DefaultModel string
}

type Mux struct {
	RouterPolicy RoutePolicy
	AdapterMap   map[string]AdapterPack
}

// RoutePolicy names the provider that should serve an input.
type RoutePolicy interface {
	Select(input assistant.AssistantInput) string
}
