// Package ai answers messages addressed to the bot.
//
// Two backends are available: Gemini through google.golang.org/genai, and
// Ollama, OpenAI or Anthropic through langchaingo. Errors are classified
// into ErrTimeout, ErrQuotaExceeded and ErrProvider so the router can log
// them without knowing which backend produced them.
package ai
