package unacked

import "github.com/downfa11-org/partition-consumer/internal/message"

// Interface is implemented by both Tracker and Disabled so the consumer
// actor can hold either behind one field regardless of whether ack_timeout
// is configured.
type Interface interface {
	Add(id message.ID)
	Remove(id message.ID) bool
	Clear()
	Close()
}

// Disabled is the null-object variant used when ack_timeout == 0
// (spec.md §9: "implement as an enum with a Disabled case rather than
// subclass polymorphism" — in Go, a second type satisfying the same
// interface is the idiomatic equivalent).
type Disabled struct{}

func (Disabled) Add(message.ID)         {}
func (Disabled) Remove(message.ID) bool { return false }
func (Disabled) Clear()                 {}
func (Disabled) Close()                 {}

var (
	_ Interface = (*Tracker)(nil)
	_ Interface = Disabled{}
)
