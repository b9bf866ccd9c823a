package wire

import (
	"context"

	"github.com/downfa11-org/partition-consumer/internal/message"
)

// Inbox is the subset of the consumer actor's mailbox the connection needs
// in order to push asynchronously arriving frames (a MessageReceived, a
// close notification) back to the owning consumer. The real type lives in
// internal/consumer; wire only depends on this narrow interface to avoid an
// import cycle.
type Inbox interface {
	// Deliver hands a decoded frame to the consumer's single-threaded loop.
	// It must never block the connection's read loop; a bounded channel
	// send with a default case, or an unbounded internal queue, are both
	// acceptable implementations.
	Deliver(frame any)
}

// Connection is the transport the consumer actor sends frames through and
// registers itself against. It is shared across every consumer and producer
// multiplexed onto the same broker connection, so implementations must be
// safe for concurrent use. The binary codec and the TCP/TLS socket behind
// this interface are assumed provided (spec.md §1 Non-goals) — this module
// only depends on the interface shape.
type Connection interface {
	// Send writes frame without waiting for a broker reply. It reports
	// whether the write was accepted by the transport, not whether the
	// broker processed it.
	Send(ctx context.Context, frame any) (bool, error)

	// SendAndWaitForReply writes frame and blocks until a Response carrying
	// the same requestID arrives, ctx is cancelled, or the connection is
	// lost.
	SendAndWaitForReply(ctx context.Context, requestID uint64, frame any) (Response, error)

	// AddConsumer registers inbox to receive frames addressed to consumerID.
	AddConsumer(consumerID uint64, inbox Inbox)

	// RemoveConsumer undoes AddConsumer. Safe to call on an id that was
	// never registered.
	RemoveConsumer(consumerID uint64)
}

// NewSubscribeFrame builds a subscribe request for the given consumer and
// subscription parameters.
func NewSubscribeFrame(requestID, consumerID uint64, topic, subscriptionName string, subType, initialPosition int, consumerName string, readCompacted bool) SubscribeFrame {
	return SubscribeFrame{
		RequestID:        requestID,
		ConsumerID:       consumerID,
		Topic:            topic,
		SubscriptionName: subscriptionName,
		SubscriptionType: subType,
		InitialPosition:  initialPosition,
		ConsumerName:     consumerName,
		ReadCompacted:    readCompacted,
	}
}

// NewFlowFrame builds a flow-permits command granting the broker permits
// more deliveries.
func NewFlowFrame(consumerID uint64, permits uint32) FlowFrame {
	return FlowFrame{ConsumerID: consumerID, MessagePermits: permits}
}

// NewAckFrame builds an ack command of the given type over ids.
func NewAckFrame(consumerID uint64, ackType AckType, ids []message.ID) AckFrame {
	return AckFrame{ConsumerID: consumerID, AckType: ackType, MessageIDs: ids}
}

// NewRedeliverFrame builds a redeliver command naming specific ids.
func NewRedeliverFrame(consumerID uint64, ids []message.ID) RedeliverFrame {
	return RedeliverFrame{ConsumerID: consumerID, MessageIDs: ids}
}

// NewRedeliverAllFrame builds a redeliver-all command for the subscription.
func NewRedeliverAllFrame(consumerID uint64) RedeliverAllFrame {
	return RedeliverAllFrame{ConsumerID: consumerID}
}

// NewCloseConsumerFrame builds a close-consumer request.
func NewCloseConsumerFrame(requestID, consumerID uint64) CloseConsumerFrame {
	return CloseConsumerFrame{RequestID: requestID, ConsumerID: consumerID}
}

// NewUnsubscribeFrame builds an unsubscribe-consumer request.
func NewUnsubscribeFrame(requestID, consumerID uint64) UnsubscribeFrame {
	return UnsubscribeFrame{RequestID: requestID, ConsumerID: consumerID}
}
