package openai

import (
	"maps"
	"slices"
)

// Endpoints maps the OpenAI-compatible backends served by this package to
// their default base URL. An empty URL selects the SDK default
// (api.openai.com).
var Endpoints = map[string]string{
	"groq":      "https://api.groq.com/openai/v1",
	"openai":    "",
	"deepseek":  "https://api.deepseek.com",
	"mistral":   "https://api.mistral.ai/v1/",
	"llamacpp":  "http://127.0.0.1:8080/v1",
	"llamafile": "http://localhost:8080/v1",
}

// EndpointNames returns the keys of [Endpoints] in sorted order.
func EndpointNames() []string {
	return slices.Sorted(maps.Keys(Endpoints))
}
