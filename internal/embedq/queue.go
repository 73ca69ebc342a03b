// Package embedq serializes outbound embedding calls. It batches texts up
// to provider-safe sizes and enforces per-tenant rate limits, so one
// tenant's bulk ingest cannot starve the provider quota for everyone
// else.
package embedq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lodestone-ai/lodestone/internal/chunker"
	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterStaleThreshold  = 10 * time.Minute
)

// AuditLogger records one row per provider call. Satisfied by
// *store.Store; the queue works without one (nil disables auditing).
type AuditLogger interface {
	LogEmbeddingRequest(ctx context.Context, entry store.EmbeddingRequestLog)
}

// Limits bounds batch sizes and per-tenant call rates.
type Limits struct {
	// RatePerSecond is the sustained provider-call rate per tenant.
	RatePerSecond float64

	// Burst is the initial and maximum token allowance per tenant.
	Burst int

	// MaxBatchSize caps texts per provider call.
	MaxBatchSize int

	// MaxBatchTokens caps the estimated token total per provider call.
	MaxBatchTokens int
}

// tenantLimiter pairs a limiter with last-use time for stale cleanup.
type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Queue is the batching, rate-limited front of the embedding provider.
// Safe for concurrent use.
type Queue struct {
	embedder provider.Embedder
	audit    AuditLogger
	limits   Limits
	logger   *slog.Logger

	mu          sync.Mutex
	tenants     map[uuid.UUID]*tenantLimiter
	lastCleanup time.Time
}

// New creates a Queue. audit may be nil.
func New(embedder provider.Embedder, audit AuditLogger, limits Limits, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.RatePerSecond <= 0 {
		limits.RatePerSecond = 5
	}
	if limits.Burst < 1 {
		limits.Burst = 1
	}
	if limits.MaxBatchSize < 1 {
		limits.MaxBatchSize = 96
	}
	if limits.MaxBatchTokens < 1 {
		limits.MaxBatchTokens = 8192
	}

	return &Queue{
		embedder:    embedder,
		audit:       audit,
		limits:      limits,
		logger:      logger,
		tenants:     make(map[uuid.UUID]*tenantLimiter),
		lastCleanup: time.Now(),
	}
}

// Submit embeds all texts in req on behalf of tenantID, splitting into
// provider batches as needed and reassembling vectors in input order.
// Blocks on the tenant's rate limiter before every provider call.
func (q *Queue) Submit(ctx context.Context, tenantID uuid.UUID, req provider.EmbedRequest) (*provider.EmbedResult, error) {
	if len(req.Texts) == 0 {
		return nil, provider.ErrEmptyInput
	}

	result := &provider.EmbedResult{
		Vectors: make([][]float32, 0, len(req.Texts)),
		Model:   req.Model,
	}

	for _, batch := range q.splitBatches(req.Texts) {
		if err := q.waitTenant(ctx, tenantID); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		batchReq := req
		batchReq.Texts = batch

		start := time.Now()
		batchResult, err := q.embedder.Embed(ctx, batchReq)
		q.logRequest(ctx, batchReq, batchResult, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if len(batchResult.Vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts",
				provider.ErrProvider, len(batchResult.Vectors), len(batch))
		}

		result.Vectors = append(result.Vectors, batchResult.Vectors...)
		result.TokenCount += batchResult.TokenCount
	}

	return result, nil
}

// splitBatches groups texts into provider calls bounded by MaxBatchSize
// and MaxBatchTokens. A single oversized text still goes out alone rather
// than being dropped.
func (q *Queue) splitBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	tokens := 0

	for _, text := range texts {
		t := chunker.EstimateTokens(text)
		exceeds := len(current) >= q.limits.MaxBatchSize || (len(current) > 0 && tokens+t > q.limits.MaxBatchTokens)
		if exceeds {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, text)
		tokens += t
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// waitTenant blocks until the tenant's limiter grants a token or ctx is
// done. Stale tenant entries are swept inline, the same way the HTTP
// per-IP limiter cleans up visitors.
func (q *Queue) waitTenant(ctx context.Context, tenantID uuid.UUID) error {
	q.mu.Lock()
	now := time.Now()

	if now.Sub(q.lastCleanup) > limiterCleanupInterval {
		for id, tl := range q.tenants {
			if now.Sub(tl.lastSeen) > limiterStaleThreshold {
				delete(q.tenants, id)
			}
		}
		q.lastCleanup = now
	}

	tl, ok := q.tenants[tenantID]
	if !ok {
		tl = &tenantLimiter{
			limiter: rate.NewLimiter(rate.Limit(q.limits.RatePerSecond), q.limits.Burst),
		}
		q.tenants[tenantID] = tl
	}
	tl.lastSeen = now
	limiter := tl.limiter
	q.mu.Unlock()

	return limiter.Wait(ctx)
}

// logRequest writes the audit row for one provider call.
func (q *Queue) logRequest(ctx context.Context, req provider.EmbedRequest, result *provider.EmbedResult, latency time.Duration, err error) {
	if q.audit == nil {
		return
	}

	entry := store.EmbeddingRequestLog{
		RequestType: string(req.InputType),
		Model:       req.Model,
		InputCount:  len(req.Texts),
		Latency:     latency,
		Success:     err == nil,
	}
	if result != nil {
		entry.TokenCount = result.TokenCount
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	q.audit.LogEmbeddingRequest(ctx, entry)
}
