package domain

import (
	"time"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// Result sources recorded under the "source" metadata key.
const (
	SourceCache     = "cache"
	SourceFastPath  = "fast_path"
	SourceFallback  = "fallback"
	SourceInventory = "inventory"
	SourceRegistry  = "registry"
)

// CacheEntry is a cached service response.
// Key is derived from the service name, operation and canonicalized arguments;
// Namespace is "service:operation" and is what invalidation patterns match.
type CacheEntry struct {
	Key         string        `json:"key"`
	Namespace   string        `json:"namespace"`
	Value       []byte        `json:"value"`
	ContentType string        `json:"content_type"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at now.
// A non-positive TTL never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// ExecutionResult is produced by every operation invocation.
// Either the success half (Content, ContentType) or the failure half
// (Error, ErrorContext) is populated, never both; use Succeeded and Failed.
type ExecutionResult struct {
	Success        bool                     `json:"success"`
	Operation      string                   `json:"operation"`
	Content        []byte                   `json:"content,omitempty"`
	ContentType    string                   `json:"content_type,omitempty"`
	Error          *dcerrors.OperationError `json:"error,omitempty"`
	ProcessingTime time.Duration            `json:"processing_time"`
	Metadata       map[string]any           `json:"metadata,omitempty"`
	ErrorContext   map[string]any           `json:"error_context,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(operation string, content []byte, contentType string, elapsed time.Duration, metadata map[string]any) ExecutionResult {
	return ExecutionResult{
		Success:        true,
		Operation:      operation,
		Content:        content,
		ContentType:    contentType,
		ProcessingTime: elapsed,
		Metadata:       cloneAnyMap(metadata),
	}
}

// Failed builds a failed result, classifying err into a typed kind.
// A nil err is recorded as an unknown failure.
func Failed(operation string, err error, elapsed time.Duration, errorContext map[string]any) ExecutionResult {
	opErr := dcerrors.Classify(err)
	if opErr == nil {
		opErr = dcerrors.New(dcerrors.KindUnknown, "UNKNOWN", "operation failed without an error")
	}
	return ExecutionResult{
		Success:        false,
		Operation:      operation,
		Error:          opErr,
		ProcessingTime: elapsed,
		ErrorContext:   cloneAnyMap(errorContext),
	}
}

// Kind returns the failure kind, or "" for a successful result.
func (r ExecutionResult) Kind() dcerrors.Kind {
	if r.Success || r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// Source returns the "source" metadata entry, if any.
func (r ExecutionResult) Source() string {
	s, _ := r.Metadata["source"].(string)
	return s
}

// CachedAt returns when a cache-served result was originally fetched.
func (r ExecutionResult) CachedAt() (time.Time, bool) {
	t, ok := r.Metadata["cached_at"].(time.Time)
	return t, ok
}

// WithMetadata returns a copy of r with an extra metadata entry.
func (r ExecutionResult) WithMetadata(key string, value any) ExecutionResult {
	md := cloneAnyMap(r.Metadata)
	if md == nil {
		md = make(map[string]any, 1)
	}
	md[key] = value
	r.Metadata = md
	return r
}
