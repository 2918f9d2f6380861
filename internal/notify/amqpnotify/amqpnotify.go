// Package amqpnotify publishes campaign notifications to an AMQP exchange so
// external observers can index campaign and pledge history. Publishing is
// best-effort fan-out: a broker failure is logged and never fails the ledger
// operation, which has already committed.
package amqpnotify

import (
	"context"
	"encoding/json"

	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultExchange = "crowdfund.campaigns"
	routingPrefix   = "campaign."
)

// Publisher implements crowdfund.Notifier over an AMQP channel.
type Publisher struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	logger     *zap.Logger
}

// Dial connects to the broker and declares the notification exchange.
func Dial(url string, exchange string, logger *zap.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, err
	}
	return &Publisher{
		connection: connection,
		channel:    channel,
		exchange:   exchange,
		logger:     logger,
	}, nil
}

// Notify publishes one committed notification as a JSON message, routed by
// notification kind.
func (publisher *Publisher) Notify(ctx context.Context, notification crowdfund.Notification) {
	body, err := json.Marshal(messagePayload{
		NotificationID:    notification.NotificationID,
		Kind:              notification.Kind.String(),
		CampaignID:        notification.CampaignID.Int64(),
		Actor:             notification.Actor.String(),
		AmountCents:       notification.AmountCents.Int64(),
		GoalCents:         notification.GoalCents.Int64(),
		StartAtUnixUTC:    notification.StartAtUnixUTC,
		EndAtUnixUTC:      notification.EndAtUnixUTC,
		OccurredAtUnixUTC: notification.OccurredAtUnixUTC,
	})
	if err != nil {
		publisher.logger.Error("notification marshal failed", zap.Error(err))
		return
	}
	err = publisher.channel.PublishWithContext(ctx,
		publisher.exchange,
		routingPrefix+notification.Kind.String(),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   notification.NotificationID,
			Body:        body,
		},
	)
	if err != nil {
		publisher.logger.Error("notification publish failed",
			zap.String("kind", notification.Kind.String()),
			zap.Int64("campaign_id", notification.CampaignID.Int64()),
			zap.Error(err),
		)
	}
}

// Close tears down the channel and connection.
func (publisher *Publisher) Close() error {
	if err := publisher.channel.Close(); err != nil {
		_ = publisher.connection.Close()
		return err
	}
	return publisher.connection.Close()
}

type messagePayload struct {
	NotificationID    string `json:"notification_id"`
	Kind              string `json:"kind"`
	CampaignID        int64  `json:"campaign_id"`
	Actor             string `json:"actor"`
	AmountCents       int64  `json:"amount_cents"`
	GoalCents         int64  `json:"goal_cents,omitempty"`
	StartAtUnixUTC    int64  `json:"start_at_unix_utc,omitempty"`
	EndAtUnixUTC      int64  `json:"end_at_unix_utc,omitempty"`
	OccurredAtUnixUTC int64  `json:"occurred_at_unix_utc"`
}
