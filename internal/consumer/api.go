package consumer

import (
	"context"

	"github.com/downfa11-org/partition-consumer/internal/ackgroup"
	"github.com/downfa11-org/partition-consumer/internal/message"
)

// Receive blocks until a message is available, the consumer is closed, or
// ctx is cancelled.
func (a *Actor) Receive(ctx context.Context) (message.Message, error) {
	reply := make(chan receiveResult, 1)
	select {
	case a.inbox <- msgReceive{reply: reply}:
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.msg, r.err
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

// Acknowledge acknowledges a single message id individually.
func (a *Actor) Acknowledge(ctx context.Context, id message.ID) error {
	return a.ack(ctx, id, ackgroup.Individual)
}

// AcknowledgeCumulative acknowledges id and every message delivered before
// it on this subscription's cursor.
func (a *Actor) AcknowledgeCumulative(ctx context.Context, id message.ID) error {
	return a.ack(ctx, id, ackgroup.Cumulative)
}

func (a *Actor) ack(ctx context.Context, id message.ID, ackType ackgroup.AckType) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- msgAcknowledge{id: id, ackType: ackType, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedeliverUnacknowledgedMessages asks the broker to resend the named ids
// (Shared/KeyShared subscriptions) or, on Exclusive/Failover, is promoted to
// a full redeliver of every unacked message.
func (a *Actor) RedeliverUnacknowledgedMessages(ctx context.Context, ids []message.ID) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- msgRedeliverUnacknowledged{ids: ids, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedeliverAllUnacknowledgedMessages asks the broker to resend every unacked
// message for this subscription's cursor.
func (a *Actor) RedeliverAllUnacknowledgedMessages(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- msgRedeliverAllUnacknowledged{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the consumer's registration on the connection and stops
// its collaborators. Idempotent.
func (a *Actor) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- msgClose{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe tears down both the consumer registration and the
// subscription cursor itself.
func (a *Actor) Unsubscribe(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- msgUnsubscribe{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasReachedEndOfTopic reports whether the broker has signalled end of
// topic. It is not an error condition; the actor keeps running.
func (a *Actor) HasReachedEndOfTopic() bool {
	return a.reachedEndOfTopic.Load()
}

// NotifyReachedEndOfTopic is called by the connection layer when the broker
// reports end of topic for this subscription.
func (a *Actor) NotifyReachedEndOfTopic() {
	a.inbox <- msgReachedEndOfTopic{}
}

// ID returns the actor's logging/debugging identity (not the wire-level
// numeric consumer id).
func (a *Actor) ID() string { return a.id }

// WireID returns the numeric consumer id this actor registers itself under
// on the connection (wire.Connection.AddConsumer/RemoveConsumer).
func (a *Actor) WireID() uint64 { return a.wireID }
