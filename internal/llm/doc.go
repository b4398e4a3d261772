// Package llm provides the language-model capability used by the
// orchestrator: a single Complete(system, user) call returning text.
//
// Two providers are available. "langchaingo" talks to OpenAI or Azure
// OpenAI through langchaingo's openai client; "eino" uses the CloudWeGo eino
// OpenAI chat model. New wraps either with a token-bucket rate limiter,
// tracing and logging.
package llm
