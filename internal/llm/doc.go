// Package llm provides the language-model capability used by the risk engine.
// It supports OpenAI and Anthropic, with retry logic, rate limiting and
// response caching, and implements both the detection fallback classifier
// and the violation assessor.
package llm
