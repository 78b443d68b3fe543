package ports

import (
	"context"
	"errors"

	"github.com/aescanero/stepflow/pkg/domain"
)

// Event bus topics.
const (
	TopicBatchEvents = "batch.events"
	TopicStepEvents  = "step.events"
)

// EventHandler processes one event.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes batch progress events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Subscribe registers handler for topic until ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	Close() error
}

// ErrReportNotFound is returned by ResultStore lookups for unknown batches.
var ErrReportNotFound = errors.New("batch report not found")

// ResultStore keeps batch reports after their batch finished.
type ResultStore interface {
	Save(ctx context.Context, report *domain.BatchReport) error
	Get(ctx context.Context, batchID string) (*domain.BatchReport, error)
	List(ctx context.Context) ([]*domain.BatchReport, error)
	Delete(ctx context.Context, batchID string) error
}

// MetricsCollector records batch and worker metrics.
type MetricsCollector interface {
	Observer

	RecordBatchSubmitted(status string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveBatches(count int)
}

// LLMRequest is a single-turn completion request.
type LLMRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// LLMResponse is the text returned by the model.
type LLMResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLMClient generates completions.
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}
