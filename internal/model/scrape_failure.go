package model

import (
	"strings"
	"time"
)

// ScrapeFailure represents a failed ingestion attempt kept for retry
type ScrapeFailure struct {
	ID             int        `json:"id"`
	MercadoLibreID string     `json:"mercadolibre_id"`
	ErrorType      string     `json:"error_type"`
	ErrorMessage   string     `json:"error_message"`
	Attempts       int        `json:"attempts"`
	LastAttempt    time.Time  `json:"last_attempt"`
	NextAttempt    *time.Time `json:"next_attempt,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Error types for categorization
const (
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeNetwork     = "network"
	ErrorTypeParse       = "parse"
	ErrorTypeExtraction  = "extraction"
	ErrorTypePersistence = "persistence"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyError categorizes an error string into a type
func ClassifyError(errMsg string) string {
	switch {
	case containsAny(errMsg, "rate limit", "429", "too many requests"):
		return ErrorTypeRateLimit
	case containsAny(errMsg, "connection", "timeout", "network", "dial", "EOF"):
		return ErrorTypeNetwork
	case containsAny(errMsg, "parse", "invalid"):
		return ErrorTypeParse
	case containsAny(errMsg, "extract", "no brand", "brand not found", "model not found"):
		return ErrorTypeExtraction
	case containsAny(errMsg, "database", "pgx", "constraint"):
		return ErrorTypePersistence
	default:
		return ErrorTypeUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
