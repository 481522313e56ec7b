package live

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pingup-app/eventd/internal/model"
)

var deliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventd_live_deliveries_total",
		Help: "Live message delivery attempts by outcome",
	},
	[]string{"outcome"},
)

// Push is the payload written to a live connection for one chat message.
// Type is "message" when the recipient has the conversation open and
// "notification" otherwise, so the client knows whether to append to the
// open chat or badge it.
type Push struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

// Bus delivers newly created chat messages to connected recipients.
// Recipients without an open connection are not buffered for: the daily
// digest workflow informs them instead.
type Bus struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewBus(registry *Registry, logger zerolog.Logger) *Bus {
	return &Bus{registry: registry, logger: logger}
}

// PublishMessage attempts inline delivery of msg to its recipient. Delivery
// is best-effort: a write failure closes the connection and drops the
// subscription without surfacing an error to the message sender.
func (b *Bus) PublishMessage(ctx context.Context, msg model.Message) {
	sub := b.registry.Lookup(msg.ToUserID)
	if sub == nil {
		deliveries.WithLabelValues("offline").Inc()
		return
	}

	kind := "notification"
	if sub.Focus() == msg.ConversationID {
		kind = "message"
	}

	if err := sub.send(ctx, Push{Type: kind, Message: msg}); err != nil {
		deliveries.WithLabelValues("failed").Inc()
		b.logger.Warn().
			Err(err).
			Str("recipient", msg.ToUserID).
			Str("message_id", msg.ID).
			Msg("live delivery failed, dropping subscription")

		b.registry.Close(msg.ToUserID, sub.conn)
		_ = sub.conn.Close("write failed")
		return
	}

	deliveries.WithLabelValues("delivered").Inc()
}
