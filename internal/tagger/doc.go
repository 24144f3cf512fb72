// Package tagger asks an LLM to describe review text as a comma-separated
// list of emotions, feelings, instruments, genres and effects.
//
// Generator is the single-call capability; LLMGenerator implements it with
// langchaingo against Ollama or any OpenAI-compatible endpoint. Batch fans a
// set of texts out over an ants worker pool, optionally rate limited, and
// waits for every result. A failed text comes back as a nil tag and never
// fails the batch.
package tagger
