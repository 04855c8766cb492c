package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStructuredOutput indicates the backend enforces a JSON schema on
	// the response natively. When false, providers inline the schema into the
	// system prompt and the caller must validate the output itself.
	SupportsStructuredOutput bool
}

// ResponseSchema constrains the model output to a JSON document.
type ResponseSchema struct {
	// Name identifies the schema to the backend (e.g. "interview_evaluation").
	// Must match ^[a-zA-Z0-9_-]+$ for OpenAI.
	Name string

	// Description is an optional human-readable summary forwarded to the model.
	Description string

	// Schema is the JSON Schema document, as decoded JSON.
	Schema map[string]any

	// Strict requests exact schema adherence where the backend supports it.
	Strict bool
}
