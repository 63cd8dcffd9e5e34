package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/metrics"
)

// Dispatcher delivers messages on a background worker so request handlers
// never wait on the email provider
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a queue of size messages
func NewDispatcher(sender Sender, size int, m *metrics.Metrics, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, size),
		metrics: m,
		log:     log.WithField("component", "dispatcher"),
	}
}

// Enqueue schedules msg for delivery. It never blocks; when the queue is
// full the message is dropped and false is returned.
func (d *Dispatcher) Enqueue(msg Message) bool {
	select {
	case d.queue <- msg:
		return true
	default:
		d.log.WithFields(logrus.Fields{
			"template":  msg.Template,
			"recipient": msg.Recipient,
		}).Warn("notification queue full, dropping message")
		d.metrics.RecordNotification(msg.Template, false)
		return false
	}
}

// Start runs the worker until ctx is cancelled, then drains what is
// already queued
func (d *Dispatcher) Start(ctx context.Context) error {
	d.wg.Add(1)
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

// Wait blocks until Start has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	id, err := d.sender.Send(ctx, msg)
	entry := d.log.WithFields(logrus.Fields{
		"template":  msg.Template,
		"recipient": msg.Recipient,
	})
	switch {
	case errors.Is(err, ErrNotConfigured):
		entry.Debug("notification skipped")
	case err != nil:
		// Log error but don't stop the worker
		entry.WithError(err).Error("notification failed")
		d.metrics.RecordNotification(msg.Template, false)
	default:
		entry.WithField("emailId", id).Debug("notification delivered")
		d.metrics.RecordNotification(msg.Template, true)
	}
}
