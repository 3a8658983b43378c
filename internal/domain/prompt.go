package domain

// PromptBundle is the ordered message list sent to the generation service for
// one request.
type PromptBundle struct {
	Messages []ChatMessage
}

// SamplingParams are the fixed generation settings.
type SamplingParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	DoSample    bool
}
