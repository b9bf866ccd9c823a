package ackgroup_test

import (
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/partition-consumer/internal/ackgroup"
	"github.com/downfa11-org/partition-consumer/internal/message"
)

type flushRecorder struct {
	mu     sync.Mutex
	calls  []flushCall
	result bool
}

type flushCall struct {
	ackType ackgroup.AckType
	ids     []message.ID
}

func (r *flushRecorder) flush(ackType ackgroup.AckType, ids []message.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idsCopy := append([]message.ID(nil), ids...)
	r.calls = append(r.calls, flushCall{ackType: ackType, ids: idsCopy})
	return r.result
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestPersistentFlushesOnWindow(t *testing.T) {
	rec := &flushRecorder{result: true}
	tr := ackgroup.NewPersistent(30*time.Millisecond, 100, rec.flush)
	defer tr.Close()

	id := message.ID{LedgerID: 1, EntryID: 1}
	tr.Add(id, ackgroup.Individual)

	waitFor(t, func() bool { return rec.count() > 0 })
}

func TestPersistentFlushesOnOverflow(t *testing.T) {
	rec := &flushRecorder{result: true}
	tr := ackgroup.NewPersistent(time.Hour, 3, rec.flush)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		tr.Add(message.ID{LedgerID: 1, EntryID: uint64(i)}, ackgroup.Individual)
	}

	waitFor(t, func() bool { return rec.count() > 0 })
}

func TestPersistentIsDuplicate(t *testing.T) {
	rec := &flushRecorder{result: true}
	tr := ackgroup.NewPersistent(time.Hour, 100, rec.flush)
	defer tr.Close()

	id := message.ID{LedgerID: 1, EntryID: 1}
	if tr.IsDuplicate(id) {
		t.Fatal("id should not be a duplicate before being added")
	}
	tr.Add(id, ackgroup.Individual)
	if !tr.IsDuplicate(id) {
		t.Fatal("id should be a duplicate immediately after Add")
	}
}

func TestPersistentRetainsPendingOnFlushFailure(t *testing.T) {
	rec := &flushRecorder{result: false}
	tr := ackgroup.NewPersistent(20*time.Millisecond, 100, rec.flush)
	defer tr.Close()

	tr.Add(message.ID{LedgerID: 1, EntryID: 1}, ackgroup.Individual)

	waitFor(t, func() bool { return rec.count() >= 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, c := range rec.calls {
		if len(c.ids) != 1 {
			t.Fatalf("expected the unflushed ack to remain pending across attempts, got %d ids", len(c.ids))
		}
	}
}

func TestNonPersistentIsNoop(t *testing.T) {
	var np ackgroup.NonPersistent
	id := message.ID{LedgerID: 1, EntryID: 1}
	np.Add(id, ackgroup.Individual)
	if np.IsDuplicate(id) {
		t.Fatal("NonPersistent should never report duplicates")
	}
	np.Close()
}
