package wire

import "github.com/downfa11-org/partition-consumer/internal/message"

// AckType distinguishes an individual ack from a cumulative one on the wire.
type AckType int

const (
	AckIndividual AckType = iota
	AckCumulative
)

// SubscribeFrame requests a new subscription on a topic partition.
type SubscribeFrame struct {
	RequestID        uint64
	ConsumerID       uint64
	Topic            string
	SubscriptionName string
	SubscriptionType int
	InitialPosition  int
	ConsumerName     string
	ReadCompacted    bool
	PriorityLevel    int
}

// FlowFrame grants the broker additional delivery permits.
type FlowFrame struct {
	ConsumerID     uint64
	MessagePermits uint32
}

// AckFrame acknowledges one or more message ids.
type AckFrame struct {
	ConsumerID uint64
	AckType    AckType
	MessageIDs []message.ID
}

// RedeliverFrame asks the broker to resend specific unacked ids.
type RedeliverFrame struct {
	ConsumerID uint64
	MessageIDs []message.ID
}

// RedeliverAllFrame asks the broker to resend every unacked id for this
// consumer's subscription cursor.
type RedeliverAllFrame struct {
	ConsumerID uint64
}

// CloseConsumerFrame tears down a consumer registration without touching the
// subscription cursor.
type CloseConsumerFrame struct {
	RequestID  uint64
	ConsumerID uint64
}

// UnsubscribeFrame tears down both the consumer registration and the
// subscription cursor itself.
type UnsubscribeFrame struct {
	RequestID  uint64
	ConsumerID uint64
}

// Response is the broker's reply to a request/response frame (Subscribe,
// CloseConsumer, Unsubscribe).
type Response struct {
	RequestID uint64
	Err       error
}
