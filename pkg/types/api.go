package types

// Message is one role-tagged turn of a conversation.
type Message struct {
	// Author of the turn: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user" enums:"system,user,assistant"`
	// Verbatim turn text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Conversation history in turn order. The reply is generated for the assistant.
	Messages []Message `json:"messages"`
}

// InferResponse is returned by POST /infer on success.
type InferResponse struct {
	// Final answer with any reasoning block removed.
	// example: Waves fold into foam
	GeneratedText string `json:"generated_text" example:"Waves fold into foam"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Failed to decode prompt: llama_decode returned 1
	Error string `json:"error" example:"Failed to decode prompt: llama_decode returned 1"`
	// Stable machine-readable error code.
	// example: decode_error
	Code string `json:"code,omitempty" example:"decode_error"`
}
