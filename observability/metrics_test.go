package observability

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsRelayActivity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMetrics()

	// Given two connections, one accepted message and one delivery
	req.NoError(m.Consume(ctx, event.ConnectionChanged{ConnectionID: "c1", UserID: "alice", Open: true}))
	req.NoError(m.Consume(ctx, event.ConnectionChanged{ConnectionID: "c2", UserID: "bob", Open: true}))
	req.NoError(m.Consume(ctx, event.MessageAccepted{MessageID: 1, SenderID: "alice", ReceiverID: "bob", Size: 5}))
	req.NoError(m.Consume(ctx, event.DeliveryStatus{MessageID: 1, State: domain.Delivered}))
	req.NoError(m.Consume(ctx, event.DeliveryStatus{MessageID: 2, State: domain.Failed, Reason: domain.ReasonBacklogOverflow}))
	req.NoError(m.Consume(ctx, event.ConnectionChanged{ConnectionID: "c2", UserID: "bob", Open: false}))

	// Then counters and gauges follow
	req.Equal(1.0, testutil.ToFloat64(m.connections))
	req.Equal(1.0, testutil.ToFloat64(m.accepted))
	req.Equal(1.0, testutil.ToFloat64(m.terminal.WithLabelValues("Delivered", "")))
	req.Equal(1.0, testutil.ToFloat64(m.terminal.WithLabelValues("Failed", "BacklogOverflow")))
}

func TestMetrics_OnlineUsersIgnoresRepeatedTransitions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMetrics()

	// When the same transition is seen twice
	req.NoError(m.Consume(ctx, event.PresenceChanged{UserID: "alice", Online: true}))
	req.NoError(m.Consume(ctx, event.PresenceChanged{UserID: "alice", Online: true}))
	req.NoError(m.Consume(ctx, event.PresenceChanged{UserID: "bob", Online: true}))
	req.NoError(m.Consume(ctx, event.PresenceChanged{UserID: "bob", Online: false}))

	// Then only real crossings count
	req.Equal(1.0, testutil.ToFloat64(m.onlineUsers))
	req.Equal(2.0, testutil.ToFloat64(m.presenceFlips.WithLabelValues("true")))
	req.Equal(1.0, testutil.ToFloat64(m.presenceFlips.WithLabelValues("false")))
}

func TestMetrics_Handler(t *testing.T) {
	req := require.New(t)
	m := NewMetrics()
	req.NoError(m.Consume(context.Background(), event.ProcessHealth{CPUPercent: 12.5, RSSBytes: 2048, Goroutines: 9}))
	req.NoError(m.Consume(context.Background(), event.QueueDepth{Name: "deliveries", Capacity: 1024, Length: 3}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	req.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	req.True(strings.Contains(body, "relay_process_goroutines 9"))
	req.True(strings.Contains(body, "relay_process_rss_bytes 2048"))
	req.True(strings.Contains(body, `relay_queue_length{queue="deliveries"} 3`))
}
