// Package consumer implements the Consumer Actor (spec.md §4.1): a
// single-threaded message loop that is the sole writer of its own state,
// coordinating the Connection Handler, Ack Grouping Tracker, Unacked
// Message Tracker, and Batch Acker into one client-side partition consumer.
package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/downfa11-org/partition-consumer/internal/ackgroup"
	"github.com/downfa11-org/partition-consumer/internal/batch"
	"github.com/downfa11-org/partition-consumer/internal/compress"
	"github.com/downfa11-org/partition-consumer/internal/config"
	"github.com/downfa11-org/partition-consumer/internal/connection"
	"github.com/downfa11-org/partition-consumer/internal/logging"
	"github.com/downfa11-org/partition-consumer/internal/message"
	"github.com/downfa11-org/partition-consumer/internal/metrics"
	"github.com/downfa11-org/partition-consumer/internal/unacked"
	"github.com/downfa11-org/partition-consumer/internal/wire"
)

var requestIDSeq uint64

func nextRequestID() uint64 { return atomic.AddUint64(&requestIDSeq, 1) }

var wireIDSeq uint64

func nextWireID() uint64 { return atomic.AddUint64(&wireIDSeq, 1) }

// Actor is one client-side consumer bound to a single partition.
type Actor struct {
	id     string
	wireID uint64

	partition int32
	cfg       *config.ConsumerConfig
	log       *logging.Logger
	met       *metrics.Consumer

	dial    connection.Dialer
	handler *connection.Handler

	ackTracker     ackgroup.Tracker
	unackedTracker unacked.Interface

	inbox chan inboxMsg

	subscribeDeadline time.Time
	subscribeDone     chan struct{}
	subscribeErr      error
	subscribeSettled  bool

	// actor-private state; touched only from run().
	state            State
	queue            []message.Message
	waitingReceiver  chan receiveResult
	availablePermits int
	prevBatchLastID  *message.ID

	// reachedEndOfTopic is the one piece of actor state read from outside
	// the run loop (HasReachedEndOfTopic); only the loop ever writes it.
	reachedEndOfTopic atomic.Bool
}

// New builds an Actor. dial establishes the transport-level connection; the
// socket/TLS/broker-lookup machinery behind it is assumed provided
// (spec.md §1 Non-goals).
func New(cfg *config.ConsumerConfig, partition int32, dial connection.Dialer, log *logging.Logger, met *metrics.Consumer) *Actor {
	if log == nil {
		log = logging.NewNop()
	}

	a := &Actor{
		id:                uuid.NewString(),
		wireID:            nextWireID(),
		partition:         partition,
		cfg:               cfg,
		log:               log,
		met:               met,
		dial:              dial,
		inbox:             make(chan inboxMsg, 1024),
		subscribeDeadline: time.Now().Add(cfg.OperationTimeout),
		subscribeDone:     make(chan struct{}),
		state:             StateConnecting,
	}

	// The grouping tracker's flush and the unacked tracker's expiry callback
	// both need to reach back into the actor, so they are wired up after a
	// exists rather than passed into its struct literal.
	if cfg.IsPersistent {
		a.ackTracker = ackgroup.NewPersistent(cfg.AckGroupTime, 1000, a.flushAcks)
	} else {
		a.ackTracker = ackgroup.NonPersistent{}
	}

	if cfg.AckTimeout > 0 {
		a.unackedTracker = unacked.New(cfg.AckTimeout, cfg.AckTimeoutTick, a.onUnackedExpired)
	} else {
		a.unackedTracker = unacked.Disabled{}
	}

	a.handler = connection.New(dial, a.onConnectionOpened, a.onConnectionFailed)
	return a
}

// Start launches the actor's message loop and the initial connect attempt.
// It returns once the first subscribe response has been received (spec.md
// §3 Consumer lifecycle) or ctx is done. Start sets no deadline of its own:
// cfg.OperationTimeout only limits how long a failed subscribe response is
// retried, so while every dial fails Start waits until ctx is done.
func (a *Actor) Start(ctx context.Context) error {
	go a.run()
	a.handler.GrabConnection(ctx)

	select {
	case <-a.subscribeDone:
		return a.subscribeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) run() {
	for m := range a.inbox {
		a.dispatch(m)
	}
}

// dispatch handles a single inbox message, recovering from a handler panic
// rather than letting it take the whole loop down (spec.md §7: "the actor
// never panics the loop on handler failure").
func (a *Actor) dispatch(m inboxMsg) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("recovered from handler panic", zap.Any("panic", r))
		}
	}()

	switch msg := m.(type) {
	case msgConnectionOpened:
		a.handleConnectionOpened()
	case msgConnectionClosed:
		a.handleConnectionClosed()
	case msgConnectionFailed:
		a.handleConnectionFailed(msg.err)
	case msgMessageReceived:
		a.handleMessageReceived(msg.raw)
	case msgReceive:
		a.handleReceive(msg.reply)
	case msgAcknowledge:
		a.handleAcknowledge(msg.id, msg.ackType, msg.reply)
	case msgRedeliverUnacknowledged:
		a.handleRedeliverUnacknowledged(msg.ids, msg.reply)
	case msgRedeliverAllUnacknowledged:
		a.handleRedeliverAllUnacknowledged(msg.reply)
	case msgReachedEndOfTopic:
		a.reachedEndOfTopic.Store(true)
	case msgClose:
		a.handleClose(msg.reply)
	case msgUnsubscribe:
		a.handleUnsubscribe(msg.reply)
	}
}

// Deliver implements wire.Inbox. It is called from the connection's own
// read-loop goroutine, so it only ever translates a frame into an inbox
// message; all interpretation happens back on the actor's own goroutine.
func (a *Actor) Deliver(frame any) {
	switch f := frame.(type) {
	case RawMessage:
		a.inbox <- msgMessageReceived{raw: f}
	case wire.RedeliverAllFrame:
		// A broker-initiated redeliver-all notification (rare, but the
		// interface allows it); treated the same as ReachedEndOfTopic-style
		// bookkeeping is out of scope here.
	default:
		a.log.Warn("dropping frame of unrecognized type")
	}
}

func (a *Actor) onConnectionOpened(wire.Connection) {
	a.inbox <- msgConnectionOpened{}
}

func (a *Actor) onConnectionFailed(err error) {
	a.inbox <- msgConnectionFailed{err: err}
}

func (a *Actor) handleConnectionClosed() {
	a.state = StateConnecting
	a.handler.ConnectionClosed(context.Background(), nil)
}

func (a *Actor) handleConnectionFailed(err error) {
	if !a.subscribeSettled {
		a.failAndStop(err)
		return
	}
	a.state = StateFailed
	a.log.Error("connection handler gave up", zap.Error(err))
}

func (a *Actor) handleConnectionOpened() {
	cnx := a.handler.Connection()
	if cnx == nil {
		return
	}
	cnx.AddConsumer(a.wireID, a)

	reqID := nextRequestID()
	frame := wire.NewSubscribeFrame(
		reqID, a.wireID, a.cfg.Topic, a.cfg.SubscriptionName,
		int(a.cfg.SubscriptionType), int(a.cfg.InitialPosition),
		a.cfg.ConsumerName, a.cfg.ReadCompacted,
	)

	resp, err := cnx.SendAndWaitForReply(context.Background(), reqID, frame)
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		cnx.RemoveConsumer(a.wireID)
		if connection.IsRetriableError(err) && time.Now().Before(a.subscribeDeadline) {
			a.handler.ReconnectLater(context.Background(), err)
			return
		}
		a.failAndStop(err)
		return
	}

	firstConnect := !a.subscribeSettled
	a.state = StateReady
	a.handler.ResetBackoff()
	a.completeSubscribe(nil)

	if !(firstConnect && a.cfg.HasParentConsumer) {
		a.sendFlow(a.cfg.ReceiverQueueSize)
	}
}

func (a *Actor) completeSubscribe(err error) {
	if a.subscribeSettled {
		return
	}
	a.subscribeSettled = true
	a.subscribeErr = err
	close(a.subscribeDone)
}

func (a *Actor) failAndStop(err error) {
	if a.state == StateFailed || a.state == StateClosed {
		return
	}
	a.state = StateFailed
	a.handler.Close()
	a.ackTracker.Close()
	a.unackedTracker.Close()
	if a.waitingReceiver != nil {
		wr := a.waitingReceiver
		a.waitingReceiver = nil
		wr <- receiveResult{err: err}
	}
	a.completeSubscribe(err)
}

func (a *Actor) transitionClosed() {
	if a.state == StateClosed {
		return
	}
	a.state = StateClosed
	a.handler.Close()
	a.ackTracker.Close()
	a.unackedTracker.Close()
	if a.waitingReceiver != nil {
		wr := a.waitingReceiver
		a.waitingReceiver = nil
		wr <- receiveResult{err: ErrAlreadyClosed}
	}
	a.completeSubscribe(ErrAlreadyClosed)
}

// handleClose tears down the consumer's registration on the connection
// without touching the subscription cursor (spec.md §4.1): when Ready, it
// transitions through Closing, sends a close-consumer request, awaits the
// broker's reply, and removes the registration before transitioning to
// Closed. Any other state (never connected, already failed/closed) falls
// straight to Closed — there is no live registration to tear down.
func (a *Actor) handleClose(reply chan error) {
	if a.state != StateReady {
		a.transitionClosed()
		reply <- nil
		return
	}

	a.state = StateClosing
	cnx := a.handler.Connection()
	if cnx == nil {
		a.transitionClosed()
		reply <- nil
		return
	}

	reqID := nextRequestID()
	resp, err := cnx.SendAndWaitForReply(context.Background(), reqID, wire.NewCloseConsumerFrame(reqID, a.wireID))
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		a.transitionClosed()
		reply <- &ConnectionFailedOnSend{Op: "close", Err: err}
		return
	}

	cnx.RemoveConsumer(a.wireID)
	a.transitionClosed()
	reply <- nil
}

func (a *Actor) addPermits(n int) {
	if n <= 0 {
		return
	}
	a.availablePermits += n
	threshold := a.cfg.ReceiverQueueSize / 2
	if threshold > 0 && a.availablePermits >= threshold {
		a.sendFlow(a.availablePermits)
		a.availablePermits = 0
	}
	if a.met != nil {
		a.met.SetAvailablePermits(a.availablePermits)
	}
}

func (a *Actor) sendFlow(n int) {
	if n <= 0 {
		return
	}
	cnx := a.handler.Connection()
	if cnx == nil {
		a.log.Warn("dropping flow permits, not connected", zap.Int("permits", n))
		return
	}
	if _, err := cnx.Send(context.Background(), wire.NewFlowFrame(a.wireID, uint32(n))); err != nil {
		a.log.Warn("flow send failed", zap.Error(err))
	}
}

func (a *Actor) flushAcks(ackType ackgroup.AckType, ids []message.ID) bool {
	cnx := a.handler.Connection()
	if cnx == nil {
		return false
	}
	var wt wire.AckType
	if ackType == ackgroup.Cumulative {
		wt = wire.AckCumulative
	} else {
		wt = wire.AckIndividual
	}
	ok, err := cnx.Send(context.Background(), wire.NewAckFrame(a.wireID, wt, ids))
	if err != nil || !ok {
		return false
	}
	if a.met != nil {
		a.met.AckSent()
	}
	return true
}

func (a *Actor) onUnackedExpired(ids []message.ID) {
	if len(ids) == 0 {
		return
	}
	a.inbox <- msgRedeliverUnacknowledged{ids: ids, reply: make(chan error, 1)}
	if a.met != nil {
		a.met.RedeliverSent()
	}
}

func (a *Actor) handleMessageReceived(raw RawMessage) {
	id := message.ID{
		LedgerID:  raw.LedgerID,
		EntryID:   raw.EntryID,
		Partition: a.partition,
		TopicName: a.cfg.Topic,
		Type:      message.Individual,
	}

	if a.ackTracker.IsDuplicate(id) {
		a.addPermits(max(raw.Metadata.NumMessages, 1))
		if a.met != nil {
			a.met.DuplicateDropped()
		}
		return
	}

	if raw.Metadata.NumMessages <= 0 {
		a.log.Warn("dropping message with non-positive num_messages")
		return
	}

	payload, err := compress.Decompress(raw.Payload, raw.Metadata.CompressionType, raw.Metadata.UncompressedSize)
	if err != nil {
		a.log.Error("decompress failed", zap.Error(err))
		return
	}

	if raw.Metadata.NumMessages == 1 && !raw.Metadata.HasNumMessagesInBatch {
		msg := message.Message{
			ID:         id,
			Metadata:   raw.Metadata,
			Payload:    payload,
			Properties: raw.Properties,
			Key:        raw.Key,
		}
		a.deliverOrEnqueue(msg)
		if a.met != nil {
			a.met.MessageReceived()
		}
		return
	}

	subs, err := batch.Split(payload, raw.Metadata.NumMessages)
	if err != nil {
		a.log.Error("batch split failed", zap.Error(err))
		return
	}

	msgs, acker := batch.StampIDs(id, a.cfg.Topic, subs)
	if len(msgs) > 0 {
		lastID := msgs[len(msgs)-1].ID
		a.prevBatchLastID = &lastID
	}
	_ = acker

	for _, m := range msgs {
		a.deliverOrEnqueue(m)
	}
	if a.met != nil {
		a.met.MessageReceived()
	}
}

func (a *Actor) deliverOrEnqueue(m message.Message) {
	if a.waitingReceiver != nil {
		wr := a.waitingReceiver
		a.waitingReceiver = nil
		a.trackForAck(m.ID)
		a.addPermits(1)
		wr <- receiveResult{msg: m}
		return
	}
	a.queue = append(a.queue, m)
	if a.met != nil {
		a.met.SetQueueSize(len(a.queue))
	}
}

func (a *Actor) trackForAck(id message.ID) {
	if a.cfg.HasParentConsumer {
		return
	}
	a.unackedTracker.Add(id)
}

func (a *Actor) handleReceive(reply chan receiveResult) {
	if a.state == StateClosed || a.state == StateFailed {
		reply <- receiveResult{err: ErrAlreadyClosed}
		return
	}
	if a.waitingReceiver != nil {
		reply <- receiveResult{err: ErrNotConnected}
		return
	}

	if len(a.queue) == 0 {
		a.waitingReceiver = reply
		return
	}

	m := a.queue[0]
	a.queue = a.queue[1:]
	if a.met != nil {
		a.met.SetQueueSize(len(a.queue))
	}
	a.trackForAck(m.ID)
	a.addPermits(1)
	reply <- receiveResult{msg: m}
}

func (a *Actor) handleAcknowledge(id message.ID, ackType ackgroup.AckType, reply chan error) {
	if a.handler.Connection() == nil {
		reply <- ErrNotConnected
		return
	}

	if id.Type == message.Cumulative {
		acker, ok := id.Acker.(*batch.Acker)
		if !ok || acker == nil {
			reply <- nil
			return
		}

		if ackType == ackgroup.Cumulative && !acker.PrevBatchCumulativelyAcked() {
			// The prior batch boundary is the entry just before this batch's.
			if id.EntryID > 0 {
				a.ackTracker.Add(message.ID{
					LedgerID: id.LedgerID, EntryID: id.EntryID - 1,
					Partition: id.Partition, TopicName: id.TopicName,
				}, ackgroup.Cumulative)
			}
			acker.MarkPrevBatchCumulativelyAcked()
		}

		var allAcked bool
		if ackType == ackgroup.Cumulative {
			allAcked = acker.AckGroup(id.BatchIndex)
		} else {
			allAcked = acker.AckIndividual(id.BatchIndex)
		}

		if !allAcked {
			reply <- nil
			return
		}

		a.unackedTracker.Remove(id)
		a.ackTracker.Add(id, ackType)
		reply <- nil
		return
	}

	a.unackedTracker.Remove(id)
	a.ackTracker.Add(id, ackType)
	reply <- nil
}

func (a *Actor) handleRedeliverUnacknowledged(ids []message.ID, reply chan error) {
	if a.cfg.SubscriptionType == config.Exclusive || a.cfg.SubscriptionType == config.Failover {
		a.handleRedeliverAllUnacknowledged(reply)
		return
	}

	idSet := make(map[message.Key]struct{}, len(ids))
	for _, id := range ids {
		idSet[id.Key()] = struct{}{}
	}

	purged := 0
	for len(a.queue) > 0 {
		key := a.queue[0].ID.Key()
		if _, ok := idSet[key]; !ok {
			break
		}
		delete(idSet, key)
		a.queue = a.queue[1:]
		purged++
	}
	if purged > 0 {
		if a.met != nil {
			a.met.SetQueueSize(len(a.queue))
		}
		a.addPermits(purged)
	}

	remaining := make([]message.ID, 0, len(idSet))
	for _, id := range ids {
		if _, ok := idSet[id.Key()]; ok {
			remaining = append(remaining, id)
		}
	}

	cnx := a.handler.Connection()
	if cnx == nil {
		reply <- ErrNotConnected
		return
	}

	for start := 0; start < len(remaining); start += MaxRedeliverUnacknowledged {
		end := start + MaxRedeliverUnacknowledged
		if end > len(remaining) {
			end = len(remaining)
		}
		chunk := remaining[start:end]
		if _, err := cnx.Send(context.Background(), wire.NewRedeliverFrame(a.wireID, chunk)); err != nil {
			reply <- &ConnectionFailedOnSend{Op: "redeliverUnacknowledged", Err: err}
			return
		}
	}
	reply <- nil
}

func (a *Actor) handleRedeliverAllUnacknowledged(reply chan error) {
	cnx := a.handler.Connection()
	if cnx == nil {
		reply <- ErrNotConnected
		return
	}
	if _, err := cnx.Send(context.Background(), wire.NewRedeliverAllFrame(a.wireID)); err != nil {
		reply <- &ConnectionFailedOnSend{Op: "redeliverAllUnacknowledged", Err: err}
		return
	}

	n := len(a.queue)
	a.queue = nil
	if a.met != nil {
		a.met.SetQueueSize(0)
	}
	if n > 0 {
		a.addPermits(n)
	}
	a.unackedTracker.Clear()
	reply <- nil
}

func (a *Actor) handleUnsubscribe(reply chan error) {
	cnx := a.handler.Connection()
	if cnx == nil {
		reply <- ErrNotConnected
		return
	}
	reqID := nextRequestID()
	resp, err := cnx.SendAndWaitForReply(context.Background(), reqID, wire.NewUnsubscribeFrame(reqID, a.wireID))
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		reply <- &ConnectionFailedOnSend{Op: "unsubscribe", Err: err}
		return
	}
	cnx.RemoveConsumer(a.wireID)
	a.transitionClosed()
	reply <- nil
}
