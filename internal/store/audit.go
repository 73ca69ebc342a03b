package store

import (
	"context"
)

// LogEmbeddingRequest appends one audit row for a provider call. The log
// is metrics-only: a write failure is logged and swallowed so it can
// never fail the embedding path it observes.
func (s *Store) LogEmbeddingRequest(ctx context.Context, entry EmbeddingRequestLog) {
	var errMsg any
	if entry.ErrorMessage != "" {
		msg := entry.ErrorMessage
		if len(msg) > maxErrorMessageLen {
			msg = msg[:maxErrorMessageLen]
		}
		errMsg = msg
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO embedding_requests
			(request_type, model, input_count, token_count, latency_ms, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RequestType, entry.Model, entry.InputCount, entry.TokenCount,
		entry.Latency.Milliseconds(), entry.Success, errMsg)
	if err != nil {
		s.logger.Warn("failed to write embedding request audit row", "error", err)
	}
}
