// Package message defines the data model shared by the consumer actor and
// its collaborators: message identity, the message envelope, and the
// compression-type enum carried in message metadata.
package message

import "fmt"

// IDType tags whether a MessageID stands alone or is a member of a batch.
type IDType int

const (
	// Individual identifies a message that was not part of a batch.
	Individual IDType = iota
	// Cumulative identifies a message that is one of several packed into a
	// single broker frame; BatchIndex is its position within the batch and
	// Acker tracks which siblings are still outstanding.
	Cumulative
)

// BatchAcker is the subset of *batch.Acker the message package needs to
// know about; kept as an interface here to avoid an import cycle between
// internal/message and internal/batch.
type BatchAcker interface {
	AckIndividual(index int) (allAcked bool)
	AckGroup(index int) (allAcked bool)
	BatchSize() int
	OutstandingAcks() int
}

// ID is a structured message identifier. Two IDs compare equal (via Equal)
// iff their (LedgerID, EntryID, Partition, batch index-or-none) tuple is
// equal; the Acker reference is not part of identity.
type ID struct {
	LedgerID  uint64
	EntryID   uint64
	Partition int32
	TopicName string

	Type       IDType
	BatchIndex int // meaningful only when Type == Cumulative
	Acker      BatchAcker
}

// Equal implements the identity invariant from the data model: the acker
// reference is deliberately excluded from the comparison.
func (id ID) Equal(other ID) bool {
	if id.LedgerID != other.LedgerID || id.EntryID != other.EntryID || id.Partition != other.Partition {
		return false
	}
	if id.Type != other.Type {
		return false
	}
	if id.Type == Cumulative {
		return id.BatchIndex == other.BatchIndex
	}
	return true
}

// Key returns a value suitable for use as a map key implementing the same
// identity as Equal — callers that need to key or compare message ids by
// identity (ack dedup sets, unacked-message buckets, redeliver purge sets)
// must use Key rather than the raw ID, since ID's own Acker field
// participates in Go's struct equality even though it is excluded from the
// identity invariant.
func (id ID) Key() Key {
	idx := -1
	if id.Type == Cumulative {
		idx = id.BatchIndex
	}
	return Key{id.LedgerID, id.EntryID, id.Partition, idx}
}

// Key is the comparable identity of a message ID, excluding the Acker
// reference and topic name.
type Key struct {
	ledgerID  uint64
	entryID   uint64
	partition int32
	batchIdx  int
}

func (id ID) String() string {
	if id.Type == Cumulative {
		return fmt.Sprintf("%d:%d:%d#%d", id.LedgerID, id.EntryID, id.Partition, id.BatchIndex)
	}
	return fmt.Sprintf("%d:%d:%d", id.LedgerID, id.EntryID, id.Partition)
}

// CompressionType enumerates the codecs a batch or message payload may be
// compressed with.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionZLib
	CompressionZStd
	CompressionSnappy
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZLib:
		return "zlib"
	case CompressionZStd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Metadata carries the per-message/per-batch envelope fields the actor
// needs to decide how to decompress and split incoming frames.
type Metadata struct {
	NumMessages           int
	CompressionType       CompressionType
	UncompressedSize      int
	HasNumMessagesInBatch bool
}

// Message is a single logical message delivered to the application.
type Message struct {
	ID         ID
	Metadata   Metadata
	Payload    []byte
	Properties map[string]string
	Key        string
}
