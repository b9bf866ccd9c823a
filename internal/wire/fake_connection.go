package wire

import (
	"context"
	"fmt"
	"sync"
)

// FakeConnection is an in-memory Connection used by actor tests to observe
// what the consumer sends and to script broker replies, following the
// teacher's e2e BrokerClient helper's role (drive the wire side of a test
// without a real socket) while staying entirely in-process.
type FakeConnection struct {
	mu        sync.Mutex
	consumers map[uint64]Inbox
	sent      []any
	replies   map[uint64]Response

	// SendErr, when non-nil, is returned by the next Send/SendAndWaitForReply
	// call instead of succeeding.
	SendErr error
}

// NewFakeConnection returns an empty FakeConnection.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		consumers: make(map[uint64]Inbox),
		replies:   make(map[uint64]Response),
	}
}

func (f *FakeConnection) Send(ctx context.Context, frame any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		err := f.SendErr
		f.SendErr = nil
		return false, err
	}
	f.sent = append(f.sent, frame)
	return true, nil
}

func (f *FakeConnection) SendAndWaitForReply(ctx context.Context, requestID uint64, frame any) (Response, error) {
	f.mu.Lock()
	if f.SendErr != nil {
		err := f.SendErr
		f.SendErr = nil
		f.mu.Unlock()
		return Response{}, err
	}
	f.sent = append(f.sent, frame)
	resp, ok := f.replies[requestID]
	f.mu.Unlock()

	if !ok {
		return Response{RequestID: requestID}, nil
	}
	return resp, resp.Err
}

func (f *FakeConnection) AddConsumer(consumerID uint64, inbox Inbox) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers[consumerID] = inbox
}

func (f *FakeConnection) RemoveConsumer(consumerID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.consumers, consumerID)
}

// ScriptReply arranges for a future SendAndWaitForReply(requestID, ...) call
// to return resp.
func (f *FakeConnection) ScriptReply(requestID uint64, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[requestID] = resp
}

// Deliver pushes frame to the inbox registered for consumerID, as a real
// connection's read loop would on an incoming broker frame.
func (f *FakeConnection) Deliver(consumerID uint64, frame any) error {
	f.mu.Lock()
	inbox, ok := f.consumers[consumerID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake connection: no consumer registered for id %d", consumerID)
	}
	inbox.Deliver(frame)
	return nil
}

// Sent returns every frame passed to Send/SendAndWaitForReply so far, in
// order.
func (f *FakeConnection) Sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

// IsRegistered reports whether consumerID currently has an inbox.
func (f *FakeConnection) IsRegistered(consumerID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.consumers[consumerID]
	return ok
}
