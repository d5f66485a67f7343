// Package embeddings turns text into dense vectors.
//
// Three providers are available: a Text-Embeddings-Inference HTTP service
// (tei), an OpenAI-compatible endpoint through langchaingo (openai), and
// local ONNX models through fastembed-go (fastembed, cgo builds only).
//
// BatchEmbedder sits on top of any provider. It splits inputs into
// fixed-size chunks, calls the provider once per chunk and reports which
// input positions produced a vector. A failed chunk is dropped as a whole.
package embeddings
