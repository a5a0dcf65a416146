// Package events publishes "ledger updated" notifications to an AMQP exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/ledger"
	"github.com/mmynk/splitwithme/internal/models"
)

// RoutingKey is used for every ledger update.
const RoutingKey = "ledger.updated"

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp091.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Balance is one participant's position in a LedgerUpdated message.
type Balance struct {
	ParticipantID int64      `json:"participant_id"`
	Name          string     `json:"name"`
	Net           api.Amount `json:"net"`
}

// LedgerUpdated is the message body.
type LedgerUpdated struct {
	Version  uint64    `json:"version"`
	Expenses int       `json:"expenses"`
	Balances []Balance `json:"balances"`
}

// NewLedgerUpdated summarises a snapshot.
func NewLedgerUpdated(snap models.Snapshot) LedgerUpdated {
	totals := calculator.Totals(snap.Participants, snap.Expenses)
	msg := LedgerUpdated{
		Version:  snap.Version,
		Expenses: len(snap.Expenses),
		Balances: make([]Balance, 0, len(totals)),
	}
	for _, t := range totals {
		msg.Balances = append(msg.Balances, Balance{
			ParticipantID: t.ParticipantID,
			Name:          t.Name,
			Net:           api.NewAmount(t.Net),
		})
	}
	return msg
}

// Publisher sends ledger updates to a direct exchange.
type Publisher struct {
	conn     *amqp091.Connection
	channel  Channel
	exchange string
}

// Dial connects to the broker at url and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewPublisher(channel, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares the exchange on an open channel.
func NewPublisher(channel Channel, exchange string) (*Publisher, error) {
	err := channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{channel: channel, exchange: exchange}, nil
}

// Publish sends one snapshot summary.
func (p *Publisher) Publish(ctx context.Context, snap models.Snapshot) error {
	body, err := json.Marshal(NewLedgerUpdated(snap))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		RoutingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("ledger-%d", snap.Version),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.DebugContext(ctx, "Published ledger update",
		"version", snap.Version,
		"exchange", p.exchange,
		"routing_key", RoutingKey)
	return nil
}

// Attach publishes every snapshot committed to l until the returned function is called.
// Failures are logged, never returned to the ledger.
func (p *Publisher) Attach(l *ledger.Ledger) (detach func()) {
	return l.Subscribe(func(snap models.Snapshot) {
		if err := p.Publish(context.Background(), snap); err != nil {
			slog.Error("Failed to publish ledger update", "version", snap.Version, "error", err)
		}
	})
}

// Close closes the channel and, if the publisher dialed it, the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
