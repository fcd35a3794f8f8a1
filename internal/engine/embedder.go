package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/lazypower/synapse/internal/llm"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder uses Ollama's embedding API. Deadlines come from the
// caller's context; wrap it in a RetryingEmbedder for a retry budget.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   atomic.Int64
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API. dims is a hint
// replaced by the width of the first vectors returned.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	o := &OllamaEmbedder{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{},
	}
	o.dims.Store(int64(dims))
	return o
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return int(o.dims.Load()) }

// EmbedBatch sends all texts to Ollama's embed endpoint in one request.
// Non-200 answers come back as *llm.APIError.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &llm.APIError{Provider: "ollama embed", Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	o.dims.Store(int64(len(result.Embeddings[0])))
	return result.Embeddings, nil
}

// RetryingEmbedder runs every batch of the wrapped Embedder under a retry
// policy.
type RetryingEmbedder struct {
	Embedder
	Policy llm.RetryPolicy
}

func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return llm.Do(ctx, r.Policy, "embed", func(ctx context.Context) ([][]float64, error) {
		return r.Embedder.EmbedBatch(ctx, texts)
	})
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": []string{"test"},
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Refitter is an embedder whose vector space is derived from a corpus. The
// engine refits it from every entity before each similarity pass, so entities
// added after startup are not embedded against a stale vocabulary.
type Refitter interface {
	Embedder
	Refit(docs []string) Embedder
}

// TFIDFEmbedder generates TF-IDF bag-of-words embeddings as a fallback.
type TFIDFEmbedder struct {
	vocab    []string           // ordered vocabulary (top terms by doc frequency)
	idf      map[string]float64 // inverse document frequency per term
	dims     int
	maxTerms int
	model    string
}

// NewTFIDFEmbedder builds a TF-IDF embedder from a document corpus,
// normally the text of every entity in the graph.
func NewTFIDFEmbedder(docs []string, maxTerms int) *TFIDFEmbedder {
	if maxTerms <= 0 {
		maxTerms = 512
	}

	// Build document frequency
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				df[term]++
				seen[term] = true
			}
		}
	}

	// Sort terms by document frequency (descending), then alphabetically so
	// the vocabulary is stable for a given corpus.
	type termFreq struct {
		term string
		freq int
	}
	terms := make([]termFreq, 0, len(df))
	for t, f := range df {
		terms = append(terms, termFreq{t, f})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].freq != terms[j].freq {
			return terms[i].freq > terms[j].freq
		}
		return terms[i].term < terms[j].term
	})

	dims := maxTerms
	if len(terms) < dims {
		dims = len(terms)
	}
	if dims == 0 {
		dims = 1 // minimum dimension to avoid zero-length vectors
	}

	vocab := make([]string, dims)
	idf := make(map[string]float64)
	numDocs := float64(len(docs))
	if numDocs == 0 {
		numDocs = 1
	}

	for i := 0; i < dims && i < len(terms); i++ {
		vocab[i] = terms[i].term
		// IDF = log(N / df) + 1 (smoothed)
		idf[vocab[i]] = math.Log(numDocs/float64(terms[i].freq)) + 1.0
	}

	// The model name carries a vocabulary fingerprint so cached vectors from
	// an older corpus are never compared with new ones.
	h := sha256.Sum256([]byte(strings.Join(vocab, "\x00")))
	return &TFIDFEmbedder{
		vocab:    vocab,
		idf:      idf,
		dims:     dims,
		maxTerms: maxTerms,
		model:    "tfidf:" + hex.EncodeToString(h[:4]),
	}
}

// Refit returns a new embedder fitted on docs with the same vocabulary cap.
func (t *TFIDFEmbedder) Refit(docs []string) Embedder {
	return NewTFIDFEmbedder(docs, t.maxTerms)
}

func (t *TFIDFEmbedder) Model() string   { return t.model }
func (t *TFIDFEmbedder) Dimensions() int { return t.dims }

// EmbedBatch embeds each text independently.
func (t *TFIDFEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = t.embed(text)
	}
	return out, nil
}

// embed generates a normalized TF-IDF vector for the given text.
func (t *TFIDFEmbedder) embed(text string) []float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return make([]float64, t.dims)
	}

	// Count term frequencies
	tf := make(map[string]int)
	for _, tok := range tokens {
		tf[tok]++
	}

	vec := make([]float64, t.dims)
	maxTF := 0
	for _, c := range tf {
		if c > maxTF {
			maxTF = c
		}
	}

	for i, term := range t.vocab {
		count := tf[term]
		if count == 0 {
			continue
		}
		// Augmented TF to prevent bias towards longer documents
		augTF := 0.5 + 0.5*float64(count)/float64(maxTF)
		idf := t.idf[term]
		if idf == 0 {
			idf = 1.0
		}
		vec[i] = augTF * idf
	}

	normalize(vec)
	return vec
}

// tokenize splits text into lowercase tokens, stripping punctuation.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 { // skip single-char tokens
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, vec)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	denom := floats.Norm(a, 2) * floats.Norm(b, 2)
	if denom == 0 {
		return 0
	}
	return floats.Dot(a, b) / denom
}

// textHash identifies embedded text for the vector cache.
func textHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
