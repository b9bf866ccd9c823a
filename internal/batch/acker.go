// Package batch implements the BatchAcker (a per-batch bitset tracking
// partial acks inside a compressed batch) and the decoder that splits a
// decompressed batch payload into individual sub-messages.
package batch

import "github.com/bits-and-blooms/bitset"

// Acker tracks which sub-messages of one batch frame have been acked. It
// lives as long as any message id in the batch is unacked and is released
// once the group is fully acked or the batch is redelivered.
type Acker struct {
	size                       int
	unacked                    *bitset.BitSet
	outstanding                int
	prevBatchCumulativelyAcked bool
}

// NewAcker allocates an Acker for a batch of the given cardinality; every
// bit starts "unacked".
func NewAcker(size int) *Acker {
	bs := bitset.New(uint(size))
	for i := 0; i < size; i++ {
		bs.Set(uint(i))
	}
	return &Acker{size: size, unacked: bs, outstanding: size}
}

// AckIndividual clears bit i and reports whether every bit is now clear.
func (a *Acker) AckIndividual(i int) bool {
	if i < 0 || i >= a.size {
		return a.outstanding == 0
	}
	if a.unacked.Test(uint(i)) {
		a.unacked.Clear(uint(i))
		a.outstanding--
	}
	return a.outstanding == 0
}

// AckGroup clears bits 0..=i (a cumulative ack within the batch) and
// reports whether every bit is now clear.
func (a *Acker) AckGroup(i int) bool {
	if i >= a.size {
		i = a.size - 1
	}
	for idx := 0; idx <= i; idx++ {
		if a.unacked.Test(uint(idx)) {
			a.unacked.Clear(uint(idx))
			a.outstanding--
		}
	}
	return a.outstanding == 0
}

// OutstandingAcks returns how many sub-messages remain unacked.
func (a *Acker) OutstandingAcks() int { return a.outstanding }

// BatchSize returns the batch's cardinality.
func (a *Acker) BatchSize() int { return a.size }

// PrevBatchCumulativelyAcked reports whether the boundary-ack flag has been
// set (spec.md §4.1 Acknowledge contract: on a cumulative ack where the
// previous batch was not cumulatively acked, the actor first sends a
// cumulative ack for the prior batch boundary and marks this flag).
func (a *Acker) PrevBatchCumulativelyAcked() bool { return a.prevBatchCumulativelyAcked }

// MarkPrevBatchCumulativelyAcked sets the boundary-ack flag.
func (a *Acker) MarkPrevBatchCumulativelyAcked() { a.prevBatchCumulativelyAcked = true }
