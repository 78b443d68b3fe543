package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

const (
	writeWait  = 10 * time.Second
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ReportSource looks up batch reports.
type ReportSource interface {
	GetReport(ctx context.Context, batchID string) (*domain.BatchReport, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	reports  ReportSource
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. reports lets the handler
// answer for batches that already finished; it may be nil.
func NewHandler(eventBus ports.EventBus, reports ReportSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		reports:  reports,
		logger:   logger,
	}
}

// HandleBatchStream streams the events of one batch.
func (h *Handler) HandleBatchStream(c *gin.Context) {
	batchID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	logger := h.logger.With(zap.String("batch_id", batchID))
	logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing; reading only detects that it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := make(chan domain.Event, bufferSize)
	h.subscribe(ctx, batchID, events)

	if event, ok := h.finishedEvent(ctx, batchID); ok {
		h.send(conn, logger, event)
		h.close(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if !h.send(conn, logger, event) {
				return
			}
			if isTerminal(event.Type) {
				h.close(conn)
				return
			}
		}
	}
}

// subscribe forwards the batch's events on both topics to ch.
func (h *Handler) subscribe(ctx context.Context, batchID string, ch chan<- domain.Event) {
	handler := func(ctx context.Context, event domain.Event) error {
		if event.BatchID != batchID {
			return nil
		}
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{ports.TopicBatchEvents, ports.TopicStepEvents} {
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}

// finishedEvent synthesizes the terminal event of a batch that already
// finished.
func (h *Handler) finishedEvent(ctx context.Context, batchID string) (domain.Event, bool) {
	if h.reports == nil {
		return domain.Event{}, false
	}
	report, err := h.reports.GetReport(ctx, batchID)
	if err != nil || !report.Status.IsTerminal() {
		return domain.Event{}, false
	}

	event := domain.Event{
		ID:        batchID,
		Type:      domain.EventBatchFinished,
		BatchID:   batchID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"status": string(report.Status)},
	}
	if report.CompletedAt != nil {
		event.Timestamp = *report.CompletedAt
	}
	if report.ValidationError != nil {
		event.Type = domain.EventBatchValidationFailed
		event.Data["error"] = report.ValidationError.Error()
	}
	return event, true
}

func (h *Handler) send(conn *websocket.Conn, logger *zap.Logger, event domain.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal event", zap.Error(err))
		return true
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Warn("failed to write message", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func isTerminal(t domain.EventType) bool {
	return t == domain.EventBatchFinished || t == domain.EventBatchValidationFailed
}
