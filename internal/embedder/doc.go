// Package embedder generates vector embeddings for review chunks and queries.
//
// The embedder supports multiple providers (Ollama, OpenAI-compatible
// endpoints, the Hugging Face inference API, and an offline hashing model)
// behind one interface and adds batching, caching and retries.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama", Model: "mxbai-embed-large"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "Tags: dreamy, shoegaze\nReview: a wall of guitars",
//	})
//
// # Batch Processing
//
// EmbedAll splits any number of texts into sub-batches and returns one vector
// per text, in input order:
//
//	vectors, err := embedder.EmbedAll(ctx, emb, texts, embedder.DefaultBatchSize)
//
// # Vectors
//
// Every vector is L2-normalized before it is returned, whatever the provider
// sent back. A provider answering with a dimension other than Dimension()
// fails the batch with types.ErrDimensionMismatch.
//
// # Provider Selection
//
// NewFromEnv selects a provider from the environment:
//
//  1. If CRATESEEK_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if HUGGINGFACE_TOKEN is set → use Hugging Face
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → fallback to local provider (offline mode)
//
// Ollama and OpenAI are driven through langchaingo; Hugging Face is called
// over plain HTTP.
//
// # Caching
//
// Providers share an LRU cache keyed by the SHA-256 of the text. Only texts
// that miss the cache are sent upstream.
//
// # Error Handling
//
// Transient failures are retried with exponential backoff. A batch that still
// fails returns ErrProviderFailed, which also matches
// types.ErrUpstreamUnavailable:
//
//	if errors.Is(err, types.ErrUpstreamUnavailable) {
//	    // embedding service down; the ingestion run stops here
//	}
package embedder
