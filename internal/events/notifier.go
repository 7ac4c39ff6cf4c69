package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// JobFinished is emitted once a job reaches a terminal status.
type JobFinished struct {
	JobID       string           `json:"job_id"`
	RequesterID string           `json:"requester_id"`
	Status      domain.JobStatus `json:"status"`
	ImageURL    string           `json:"image_url,omitempty"`
	MeshURL     string           `json:"mesh_url,omitempty"`
	Errors      []string         `json:"errors"`
	RetryOf     string           `json:"retry_of,omitempty"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// NewJobFinished builds the event from a terminal job.
func NewJobFinished(job *domain.Job) JobFinished {
	return JobFinished{
		JobID:       job.ID,
		RequesterID: job.RequesterID,
		Status:      job.Status,
		ImageURL:    job.ImageURL,
		MeshURL:     job.MeshURL,
		Errors:      append([]string{}, job.Errors...),
		RetryOf:     job.Metadata.RetryOf,
		FinishedAt:  job.UpdatedAt,
	}
}

// RoutingKey is "generation.<status>".
func (e JobFinished) RoutingKey() string {
	return "generation." + string(e.Status)
}

// Notifier delivers job lifecycle events.
type Notifier interface {
	JobFinished(ctx context.Context, evt JobFinished) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) JobFinished(context.Context, JobFinished) error { return nil }

// AMQPNotifier publishes events to a durable topic exchange.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   infra.Logger
}

func NewAMQPNotifier(uri, exchange string, logger *infra.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // args
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange: %w", err)
	}
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, logger: l}, nil
}

func (n *AMQPNotifier) JobFinished(ctx context.Context, evt JobFinished) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Publish(
		n.exchange,       // exchange
		evt.RoutingKey(), // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    evt.JobID,
			Timestamp:    evt.FinishedAt,
			Body:         body,
		},
	)
}

func (n *AMQPNotifier) Close() error {
	if n.ch != nil {
		if err := n.ch.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("amqp: close channel failed")
		}
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*AMQPNotifier)(nil)
)
