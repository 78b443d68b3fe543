// Package llm provides LLM client implementations for the llm step kind.
//
// The factory creates clients based on provider configuration. Supported
// providers:
//   - anthropic: Anthropic Messages API
package llm
