package notifier

import (
	"context"
	"time"

	"sweepbot/internal/transport"
)

// Config controls the pipeline. With Enabled false, Send delivers inline
// without queueing or retries.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Sender is the transport used for delivery.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Failure is published on the event bus when a message is given up.
type Failure struct {
	ChatID   int64     `json:"chat_id"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}
