package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	eventsmem "github.com/aescanero/stepflow/pkg/adapters/events/memory"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

type staticReports map[string]*domain.BatchReport

func (s staticReports) GetReport(ctx context.Context, batchID string) (*domain.BatchReport, error) {
	if r, ok := s[batchID]; ok {
		return r, nil
	}
	return nil, ports.ErrReportNotFound
}

func newStreamServer(t *testing.T, reports ReportSource) (*httptest.Server, *eventsmem.EventBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	bus := eventsmem.NewEventBus(logger)
	router := gin.New()
	router.GET("/api/v1/batches/:id/ws", NewHandler(bus, reports, logger).HandleBatchStream)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = bus.Close()
	})
	return srv, bus
}

func dial(t *testing.T, srv *httptest.Server, batchID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/batches/" + batchID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event domain.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandleBatchStream_FiltersAndCloses(t *testing.T) {
	srv, bus := newStreamServer(t, staticReports{})
	conn := dial(t, srv, "b1")

	require.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicBatchEvents) == 1 && bus.Subscribers(ports.TopicStepEvents) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, ports.TopicStepEvents, domain.Event{ID: "1", Type: domain.EventStepFinished, BatchID: "other", StepID: "x"}))
	require.NoError(t, bus.Publish(ctx, ports.TopicStepEvents, domain.Event{ID: "2", Type: domain.EventStepFinished, BatchID: "b1", StepID: "load"}))

	event := readEvent(t, conn)
	assert.Equal(t, "2", event.ID)
	assert.Equal(t, domain.StepID("load"), event.StepID)

	require.NoError(t, bus.Publish(ctx, ports.TopicBatchEvents, domain.Event{ID: "3", Type: domain.EventBatchFinished, BatchID: "b1"}))
	event = readEvent(t, conn)
	assert.Equal(t, domain.EventBatchFinished, event.Type)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())

	assert.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicBatchEvents) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleBatchStream_AlreadyFinished(t *testing.T) {
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reports := staticReports{
		"done": {
			BatchID:     "done",
			Status:      domain.BatchStatusValidationFailed,
			CompletedAt: &completed,
			ValidationError: &domain.ValidationError{
				Kind:       domain.ValidationMissingDependency,
				Step:       "a",
				Dependency: "ghost",
			},
		},
	}
	srv, _ := newStreamServer(t, reports)
	conn := dial(t, srv, "done")

	event := readEvent(t, conn)
	assert.Equal(t, domain.EventBatchValidationFailed, event.Type)
	assert.Equal(t, "validation_failed", event.Data["status"])
	assert.True(t, completed.Equal(event.Timestamp))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
