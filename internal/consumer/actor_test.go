package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/downfa11-org/partition-consumer/internal/batch"
	"github.com/downfa11-org/partition-consumer/internal/config"
	"github.com/downfa11-org/partition-consumer/internal/logging"
	"github.com/downfa11-org/partition-consumer/internal/message"
	"github.com/downfa11-org/partition-consumer/internal/wire"
)

func baseConfig() *config.ConsumerConfig {
	return &config.ConsumerConfig{
		Topic:             "orders",
		SubscriptionName:  "sub-1",
		SubscriptionType:  config.Exclusive,
		ReceiverQueueSize: 4,
		AckGroupTime:      15 * time.Millisecond,
		OperationTimeout:  2 * time.Second,
		IsPersistent:      true,
	}
}

func startActor(t *testing.T, cfg *config.ConsumerConfig, conn *wire.FakeConnection) *Actor {
	t.Helper()
	dial := func(ctx context.Context) (wire.Connection, error) { return conn, nil }
	a := New(cfg, 0, dial, logging.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
		defer closeCancel()
		_ = a.Close(closeCtx)
	})
	return a
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func countFlowFrames(frames []any, permits uint32) int {
	n := 0
	for _, f := range frames {
		if ff, ok := f.(wire.FlowFrame); ok && ff.MessagePermits == permits {
			n++
		}
	}
	return n
}

func countAckFrames(frames []any) []wire.AckFrame {
	var out []wire.AckFrame
	for _, f := range frames {
		if af, ok := f.(wire.AckFrame); ok {
			out = append(out, af)
		}
	}
	return out
}

func countRedeliverFrames(frames []any) []wire.RedeliverFrame {
	var out []wire.RedeliverFrame
	for _, f := range frames {
		if rf, ok := f.(wire.RedeliverFrame); ok {
			out = append(out, rf)
		}
	}
	return out
}

// Scenario 1: queue_size=4, ack_timeout=0, 4 non-batched messages, 4
// receives then 4 individual acks.
func TestScenarioFlowControlAndAcks(t *testing.T) {
	conn := wire.NewFakeConnection()
	cfg := baseConfig()
	a := startActor(t, cfg, conn)

	waitForCondition(t, time.Second, func() bool { return countFlowFrames(conn.Sent(), 4) == 1 })

	ctx := context.Background()
	var ids []message.ID
	for i := 0; i < 4; i++ {
		a.Deliver(RawMessage{
			LedgerID: 1, EntryID: uint64(i),
			Metadata: message.Metadata{NumMessages: 1},
			Payload:  []byte("m"),
		})
	}

	for i := 0; i < 4; i++ {
		m, err := a.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive(%d) failed: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	waitForCondition(t, time.Second, func() bool { return countFlowFrames(conn.Sent(), 2) == 2 })

	for _, id := range ids {
		if err := a.Acknowledge(ctx, id); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}
	}

	waitForCondition(t, time.Second, func() bool { return len(countAckFrames(conn.Sent())) > 0 })

	acked := make(map[message.ID]bool)
	for _, af := range countAckFrames(conn.Sent()) {
		for _, id := range af.MessageIDs {
			acked[id] = true
		}
	}
	for _, id := range ids {
		if !acked[id] {
			t.Errorf("id %v was never observed in an ack frame", id)
		}
	}
}

// Scenario 2: one batch of 3 sub-messages, out-of-order individual acks;
// no ack frame until the third (batch-completing) ack.
func TestScenarioBatchAckSuppressedUntilComplete(t *testing.T) {
	conn := wire.NewFakeConnection()
	cfg := baseConfig()
	cfg.SubscriptionType = config.Shared
	a := startActor(t, cfg, conn)

	a.Deliver(RawMessage{
		LedgerID: 5, EntryID: 9,
		Metadata: message.Metadata{NumMessages: 3, HasNumMessagesInBatch: true},
		Payload: batch.EncodeBatchPayload([]batch.SubMessage{
			{Payload: []byte("a")},
			{Payload: []byte("b")},
			{Payload: []byte("c")},
		}),
	})

	ctx := context.Background()
	m, err := a.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if m.ID.BatchIndex != 0 {
		t.Fatalf("first receive should yield batch index 0, got %d", m.ID.BatchIndex)
	}

	id1 := message.ID{LedgerID: 5, EntryID: 9, Type: message.Cumulative, BatchIndex: 1, Acker: m.ID.Acker}
	id2 := message.ID{LedgerID: 5, EntryID: 9, Type: message.Cumulative, BatchIndex: 2, Acker: m.ID.Acker}

	if err := a.Acknowledge(ctx, id1); err != nil {
		t.Fatalf("ack 1 failed: %v", err)
	}
	if err := a.Acknowledge(ctx, id2); err != nil {
		t.Fatalf("ack 2 failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if len(countAckFrames(conn.Sent())) != 0 {
		t.Fatal("no ack frame should be sent before the batch is fully acked")
	}

	if err := a.Acknowledge(ctx, m.ID); err != nil {
		t.Fatalf("ack 0 failed: %v", err)
	}

	waitForCondition(t, time.Second, func() bool { return len(countAckFrames(conn.Sent())) == 1 })
}

// Scenario 3: ack_timeout fires and triggers a redeliver for the unacked id.
func TestScenarioAckTimeoutTriggersRedeliver(t *testing.T) {
	conn := wire.NewFakeConnection()
	cfg := baseConfig()
	cfg.SubscriptionType = config.Shared
	cfg.AckTimeout = 120 * time.Millisecond
	cfg.AckTimeoutTick = 40 * time.Millisecond
	a := startActor(t, cfg, conn)

	a.Deliver(RawMessage{
		LedgerID: 1, EntryID: 1,
		Metadata: message.Metadata{NumMessages: 1},
		Payload:  []byte("m1"),
	})

	ctx := context.Background()
	m, err := a.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return len(countRedeliverFrames(conn.Sent())) > 0
	})

	frames := countRedeliverFrames(conn.Sent())
	found := false
	for _, id := range frames[0].MessageIDs {
		if id == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("redeliver frame did not name the timed-out id: %+v", frames[0])
	}
}

// Scenario 4: Shared subscription, 2500 unacked ids chunked into
// 1000/1000/500.
func TestScenarioRedeliverChunking(t *testing.T) {
	conn := wire.NewFakeConnection()
	cfg := baseConfig()
	cfg.SubscriptionType = config.Shared
	a := startActor(t, cfg, conn)

	ids := make([]message.ID, 2500)
	for i := range ids {
		ids[i] = message.ID{LedgerID: 1, EntryID: uint64(i + 1000000)}
	}

	ctx := context.Background()
	if err := a.RedeliverUnacknowledgedMessages(ctx, ids); err != nil {
		t.Fatalf("RedeliverUnacknowledgedMessages failed: %v", err)
	}

	frames := countRedeliverFrames(conn.Sent())
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	sizes := []int{len(frames[0].MessageIDs), len(frames[1].MessageIDs), len(frames[2].MessageIDs)}
	want := []int{1000, 1000, 500}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frames[%d] size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

// Scenario 5: parked receive survives a reconnect; the next message after
// reconnect replies to the parked receive.
func TestScenarioParkedReceiveSurvivesReconnect(t *testing.T) {
	conn := wire.NewFakeConnection()
	cfg := baseConfig()
	a := startActor(t, cfg, conn)

	waitForCondition(t, time.Second, func() bool { return countFlowFrames(conn.Sent(), 4) == 1 })

	var mu sync.Mutex
	var got message.Message
	var gotErr error
	done := make(chan struct{})

	go func() {
		m, err := a.Receive(context.Background())
		mu.Lock()
		got, gotErr = m, err
		mu.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let the Receive call land in the actor's waitingReceiver slot

	a.inbox <- msgConnectionClosed{}

	waitForCondition(t, 2*time.Second, func() bool { return countFlowFrames(conn.Sent(), 4) == 2 })

	a.Deliver(RawMessage{
		LedgerID: 9, EntryID: 1,
		Metadata: message.Metadata{NumMessages: 1},
		Payload:  []byte("after-reconnect"),
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parked receive never completed after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Fatalf("parked receive returned error: %v", gotErr)
	}
	if string(got.Payload) != "after-reconnect" {
		t.Fatalf("payload = %q, want after-reconnect", got.Payload)
	}
}

// Scenario 6: Close while subscribe is still retrying past operation_timeout.
func TestScenarioCloseDuringBackoff(t *testing.T) {
	alwaysFail := func(ctx context.Context) (wire.Connection, error) {
		return nil, errDialFailure
	}

	cfg := baseConfig()
	cfg.OperationTimeout = 30 * time.Millisecond
	a := New(cfg, 0, alwaysFail, logging.NewNop(), nil)

	startErrCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		startErrCh <- a.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-startErrCh:
		if err == nil {
			t.Fatal("Start should complete with an error when closed mid-backoff")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after Close")
	}

	if _, err := a.Receive(context.Background()); err != ErrAlreadyClosed {
		t.Fatalf("Receive after close = %v, want ErrAlreadyClosed", err)
	}
}

var errDialFailure = dialFailureError{}

type dialFailureError struct{}

func (dialFailureError) Error() string { return "dial failed" }
