package docindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/observability"
)

// NoRelevantInformation is returned by Search only when no documents are loaded.
const NoRelevantInformation = "No relevant information found."

const (
	contextLinesBefore = 2
	contextLinesAfter  = 2
	minQueryWordLen    = 3
	hitDelimiter       = "\n\n---\n\n"
)

// DocumentInfo describes one loaded document.
type DocumentInfo struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
	Lines int    `json:"lines"`
}

// Hit is one matched window of a document.
type Hit struct {
	Source string
	Text   string
}

// Index is an in-memory lexical index over a small document corpus.
// Searches run concurrently; loads are serialised and publish a fully built
// mapping so a reader never sees a partially replaced corpus.
type Index struct {
	sources []Source
	logger  *zap.Logger
	metrics *observability.Metrics

	loadMu sync.Mutex

	mu     sync.RWMutex
	docs   map[string]string
	loaded bool
}

func New(logger *zap.Logger, metrics *observability.Metrics, sources ...Source) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		sources: sources,
		logger:  logger.Named("docindex"),
		metrics: metrics,
		docs:    map[string]string{},
	}
}

// Load replaces the whole corpus with what the sources currently hold.
// Source failures are logged and skipped.
func (ix *Index) Load(ctx context.Context) error {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	return ix.loadLocked(ctx)
}

// Reload clears the corpus and loads it again.
func (ix *Index) Reload(ctx context.Context) error {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()

	ix.mu.Lock()
	ix.loaded = false
	ix.mu.Unlock()

	ix.logger.Info("reloading documents")
	return ix.loadLocked(ctx)
}

func (ix *Index) loadLocked(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "docindex.load")
	defer span.End()
	started := time.Now()

	next := make(map[string]string)
	for _, src := range ix.sources {
		names, err := src.List(ctx)
		if err != nil {
			ix.logger.Warn("list documents failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := src.Read(ctx, name)
			if err != nil {
				ix.logger.Warn("read document failed",
					zap.String("source", src.Name()),
					zap.String("document", name),
					zap.Error(err))
				continue
			}
			next[name] = text
		}
	}

	ix.mu.Lock()
	ix.docs = next
	ix.loaded = true
	ix.mu.Unlock()

	span.SetAttributes(attribute.Int("documents", len(next)))
	if ix.metrics != nil {
		ix.metrics.DocumentsLoaded.Set(float64(len(next)))
		ix.metrics.Stages.Observe(observability.StageIndexLoad, time.Since(started))
	}
	ix.logger.Info("documents loaded", zap.Int("count", len(next)), zap.Duration("took", time.Since(started)))
	return nil
}

func (ix *Index) snapshot(ctx context.Context) (map[string]string, error) {
	ix.mu.RLock()
	docs, loaded := ix.docs, ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return docs, nil
	}

	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	ix.mu.RLock()
	docs, loaded = ix.docs, ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return docs, nil
	}
	if err := ix.loadLocked(ctx); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.docs, nil
}

// Search answers a free-text query with source-labelled context windows.
//
// A line matches when it contains any query word longer than two characters,
// or the whole lowercased query. A document with no matching line contributes
// its full text, so a query that matches nothing returns the whole corpus.
func (ix *Index) Search(ctx context.Context, query string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "docindex.search")
	defer span.End()
	started := time.Now()

	docs, err := ix.snapshot(ctx)
	if err != nil {
		return "", err
	}
	hits := searchDocs(docs, query)
	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("hits", len(hits)))
	if ix.metrics != nil {
		ix.metrics.Stages.Observe(observability.StageIndexSearch, time.Since(started))
	}
	if len(docs) == 0 {
		return NoRelevantInformation, nil
	}
	return FormatHits(hits), nil
}

func searchDocs(docs map[string]string, query string) []Hit {
	full := strings.ToLower(strings.TrimSpace(query))
	words := queryWords(full)

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	var hits []Hit
	for _, name := range names {
		text := docs[name]
		lines := nonBlankLines(text)
		found := 0
		for i, line := range lines {
			if !lineMatches(strings.ToLower(line), full, words) {
				continue
			}
			lo := max(0, i-contextLinesBefore)
			hi := min(len(lines), i+contextLinesAfter+1)
			hits = append(hits, Hit{Source: name, Text: strings.Join(lines[lo:hi], "\n")})
			found++
		}
		// TODO: confirm with product whether the whole-document fallback should stay; it defeats relevance.
		if found == 0 {
			hits = append(hits, Hit{Source: name, Text: text})
		}
	}
	return hits
}

func queryWords(lowered string) []string {
	var out []string
	for _, w := range strings.Fields(lowered) {
		if len(w) >= minQueryWordLen {
			out = append(out, w)
		}
	}
	return out
}

func lineMatches(lowerLine, fullQuery string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lowerLine, w) {
			return true
		}
	}
	return fullQuery != "" && strings.Contains(lowerLine, fullQuery)
}

func nonBlankLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, "\r"))
		}
	}
	return out
}

func FormatHits(hits []Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, "From "+h.Source+":\n"+h.Text)
	}
	return strings.Join(parts, hitDelimiter)
}

// Documents lists the currently published corpus in name order.
func (ix *Index) Documents() []DocumentInfo {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]DocumentInfo, 0, len(ix.docs))
	for name, text := range ix.docs {
		out = append(out, DocumentInfo{Name: name, Bytes: len(text), Lines: len(nonBlankLines(text))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}
