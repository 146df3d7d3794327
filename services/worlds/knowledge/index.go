// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "worlds.knowledge"

	// embedConcurrency bounds parallel embedding calls during Build.
	embedConcurrency = 10

	// DefaultQueryCacheSize is the number of memoized query vectors.
	DefaultQueryCacheSize = 256
)

// Chunk is one segment of the corpus.
type Chunk struct {
	CanonicalName string
	DisplayLabel  string
	Documentation string

	// Vector is unit-normalized. Nil when embedding failed or the chunk
	// shares no terms with the fitted vocabulary.
	Vector []float32
}

// Match is a search hit. Confidence is 1.0 only for exact matches.
type Match struct {
	CanonicalName string  `json:"canonical_name"`
	DisplayLabel  string  `json:"display_label"`
	Documentation string  `json:"documentation"`
	Confidence    float64 `json:"confidence"`
}

// Searcher is the read side of the index, implemented by *Index and *Watcher.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Match, error)
	Get(canonicalName string) (Match, bool)
	Labels() []string
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	store     VectorStore
	logger    *slog.Logger
	cacheSize int
}

// WithVectorStore persists chunk vectors between builds.
func WithVectorStore(store VectorStore) Option {
	return func(o *buildOptions) { o.store = store }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithQueryCacheSize sets the query memo size. Values <= 0 disable it.
func WithQueryCacheSize(n int) Option {
	return func(o *buildOptions) { o.cacheSize = n }
}

// Index is an immutable, searchable set of chunks.
type Index struct {
	chunks     []Chunk
	byName     map[string]int
	embedder   Embedder
	queryCache *lru.Cache[string, []float32]
	logger     *slog.Logger
}

// Build segments corpus and embeds every chunk.
//
// Description:
//
//	An empty corpus, or one without any vocabulary line, produces an empty
//	index; that is logged once and is not an error. Embedders implementing
//	Fitter are fitted on the chunk documents first. Individual embedding
//	failures leave that chunk reachable by exact match only.
//
// Inputs:
//   - ctx: Context for embedding calls.
//   - corpus: Flat documentation text.
//   - embedder: Vector source. Nil uses TF-IDF.
//   - opts: Optional persistence, logger and memo size.
//
// Outputs:
//   - *Index: Never nil on success.
//   - error: Non-nil only when ctx is cancelled during embedding.
func Build(ctx context.Context, corpus string, embedder Embedder, opts ...Option) (*Index, error) {
	o := buildOptions{logger: slog.Default(), cacheSize: DefaultQueryCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(slog.String("component", "knowledge"))
	if embedder == nil {
		embedder = NewTFIDFEmbedder()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "knowledge.Build")
	defer span.End()
	start := time.Now()

	segments := segmentCorpus(corpus)
	idx := &Index{
		chunks: make([]Chunk, len(segments)),
		byName: make(map[string]int, len(segments)),
		logger: logger,
	}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, []float32](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("knowledge: query cache: %w", err)
		}
		idx.queryCache = cache
	}

	docs := make([]string, len(segments))
	for i, s := range segments {
		label := Label(s.name)
		idx.chunks[i] = Chunk{CanonicalName: s.name, DisplayLabel: label, Documentation: s.text}
		idx.byName[s.name] = i
		docs[i] = embeddingDocument(label, s.text)
	}
	if f, ok := embedder.(Fitter); ok {
		embedder = f.Fit(docs)
	}
	idx.embedder = embedder

	span.SetAttributes(
		attribute.Int("chunks", len(segments)),
		attribute.String("embedder", embedder.Name()),
	)
	if len(segments) == 0 {
		logger.Warn("knowledge: corpus is empty; all searches will return no match")
		indexedChunks.Set(0)
		return idx, nil
	}

	if err := idx.embedChunks(ctx, docs, o.store); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	buildDuration.Observe(time.Since(start).Seconds())
	indexedChunks.Set(float64(len(idx.chunks)))
	logger.Info("knowledge: index built",
		slog.Int("chunks", len(idx.chunks)),
		slog.String("embedder", embedder.Name()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return idx, nil
}

func (idx *Index) embedChunks(ctx context.Context, docs []string, store VectorStore) error {
	hash := corpusHash(idx.segments(), idx.embedder.Name())
	if store != nil {
		cached, err := store.LoadVectors(ctx, hash)
		if err != nil {
			idx.logger.Warn("knowledge: vector store load failed, embedding corpus",
				slog.String("error", err.Error()))
		} else if len(cached) > 0 {
			for i := range idx.chunks {
				idx.chunks[i].Vector = cached[idx.chunks[i].CanonicalName]
			}
			idx.logger.Info("knowledge: loaded vectors from store",
				slog.Int("chunks", len(cached)),
				slog.String("corpus_hash", shortHash(hash)))
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i := range docs {
		g.Go(func() error {
			vec, err := idx.embedder.Embed(gctx, docs[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				idx.logger.Warn("knowledge: failed to embed chunk",
					slog.String("chunk", idx.chunks[i].CanonicalName),
					slog.String("error", err.Error()))
				return nil
			}
			idx.chunks[i].Vector = unit(vec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("knowledge: embedding corpus: %w", err)
	}

	if store != nil {
		toSave := make(map[string][]float32, len(idx.chunks))
		for _, c := range idx.chunks {
			if c.Vector != nil {
				toSave[c.CanonicalName] = c.Vector
			}
		}
		if err := store.SaveVectors(ctx, hash, toSave); err != nil {
			idx.logger.Warn("knowledge: failed to persist vectors",
				slog.String("error", err.Error()),
				slog.String("corpus_hash", shortHash(hash)))
		}
	}
	return nil
}

func (idx *Index) segments() []segment {
	out := make([]segment, len(idx.chunks))
	for i, c := range idx.chunks {
		out[i] = segment{name: c.CanonicalName, text: c.Documentation}
	}
	return out
}

// Len returns the number of chunks.
func (idx *Index) Len() int { return len(idx.chunks) }

// Search returns up to topK matches for query.
//
// Description:
//
//	Exact matching compares the normalized query against each chunk's
//	suffix-stripped name and humanized label; all exact hits are returned
//	in corpus order with confidence 1.0. Otherwise the query is embedded
//	and chunks are ranked by cosine similarity, ties broken by corpus order.
//	An empty index or empty query returns no matches and no error.
//
// Outputs:
//   - []Match: Highest confidence first.
//   - error: Non-nil when the query embedding fails.
//
// Thread Safety: This method is safe for concurrent use.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}
	q := normalize(query)
	if len(idx.chunks) == 0 || q == "" {
		searchTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "knowledge.Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", q), attribute.Int("top_k", topK))

	if exact := idx.exactMatches(q, topK); len(exact) > 0 {
		searchTotal.WithLabelValues("exact").Inc()
		span.SetAttributes(attribute.String("mode", "exact"))
		return exact, nil
	}

	qvec, err := idx.queryVector(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("knowledge: embedding query: %w", err)
	}

	type scored struct {
		i     int
		score float64
	}
	ranked := make([]scored, 0, len(idx.chunks))
	for i, c := range idx.chunks {
		if c.Vector == nil {
			continue
		}
		var s float64
		if qvec != nil {
			s = dotProduct(qvec, c.Vector)
		}
		ranked = append(ranked, scored{i: i, score: s})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Match, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, idx.match(r.i, clamp01(r.score)))
	}
	searchTotal.WithLabelValues("similarity").Inc()
	span.SetAttributes(attribute.String("mode", "similarity"), attribute.Int("results", len(out)))
	return out, nil
}

func (idx *Index) exactMatches(q string, topK int) []Match {
	var out []Match
	for i, c := range idx.chunks {
		if q == normalize(CoreName(c.CanonicalName)) || q == normalize(c.DisplayLabel) {
			out = append(out, idx.match(i, 1.0))
			if len(out) == topK {
				break
			}
		}
	}
	return out
}

func (idx *Index) queryVector(ctx context.Context, q string) ([]float32, error) {
	if idx.queryCache != nil {
		if v, ok := idx.queryCache.Get(q); ok {
			queryCacheTotal.WithLabelValues("hit").Inc()
			return v, nil
		}
		queryCacheTotal.WithLabelValues("miss").Inc()
	}
	raw, err := idx.embedder.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	v := unit(raw)
	if idx.queryCache != nil {
		idx.queryCache.Add(q, v)
	}
	return v, nil
}

func (idx *Index) match(i int, confidence float64) Match {
	c := idx.chunks[i]
	return Match{
		CanonicalName: c.CanonicalName,
		DisplayLabel:  c.DisplayLabel,
		Documentation: c.Documentation,
		Confidence:    confidence,
	}
}

// Get returns the chunk for a canonical name.
func (idx *Index) Get(canonicalName string) (Match, bool) {
	i, ok := idx.byName[canonicalName]
	if !ok {
		return Match{}, false
	}
	return idx.match(i, 1.0), true
}

// Labels returns the humanized labels in corpus order.
func (idx *Index) Labels() []string {
	out := make([]string, len(idx.chunks))
	for i, c := range idx.chunks {
		out[i] = c.DisplayLabel
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
