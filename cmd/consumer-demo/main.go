// Command consumer-demo wires a single partition consumer end to end: load
// config, start metrics, connect, and print every message it receives until
// interrupted.
//
// The actual socket/TLS/broker-lookup machinery a Connection sits on top of
// is out of scope for this module (spec.md §1 Non-goals); this binary stands
// a wire.FakeConnection in for it and feeds the consumer a few synthetic
// messages on a timer, so the full actor lifecycle can be exercised without a
// real broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/downfa11-org/partition-consumer/internal/config"
	"github.com/downfa11-org/partition-consumer/internal/consumer"
	"github.com/downfa11-org/partition-consumer/internal/logging"
	"github.com/downfa11-org/partition-consumer/internal/message"
	"github.com/downfa11-org/partition-consumer/internal/metrics"
	"github.com/downfa11-org/partition-consumer/internal/wire"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.ConsumerName, cfg.SubscriptionName, 0, false)
	defer log.Sync()

	met := metrics.NewConsumer(prometheus.DefaultRegisterer, cfg.Topic, cfg.SubscriptionName, 0)
	metrics.StartServer(9090)

	loopback := wire.NewFakeConnection()
	dial := func(ctx context.Context) (wire.Connection, error) { return loopback, nil }

	a := consumer.New(cfg, 0, dial, log, met)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		log.Error("failed to start consumer", zap.Error(err))
		os.Exit(1)
	}
	log.Info("consumer subscribed", zap.String("topic", cfg.Topic))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go feedSyntheticMessages(loopback, a.WireID())

	for {
		select {
		case <-stop:
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.Close(closeCtx)
			closeCancel()
			return
		default:
		}

		recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
		m, err := a.Receive(recvCtx)
		recvCancel()
		if err != nil {
			continue
		}

		log.Info("received message", zap.String("id", m.ID.String()), zap.ByteString("payload", m.Payload))
		ackCtx, ackCancel := context.WithTimeout(context.Background(), time.Second)
		if err := a.Acknowledge(ackCtx, m.ID); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		ackCancel()
	}
}

// feedSyntheticMessages stands in for a broker pushing frames down the wire,
// since there is no real transport behind the loopback connection.
func feedSyntheticMessages(conn *wire.FakeConnection, consumerID uint64) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var n uint64
	for range ticker.C {
		n++
		_ = conn.Deliver(consumerID, consumer.RawMessage{
			LedgerID: 1,
			EntryID:  n,
			Metadata: message.Metadata{NumMessages: 1},
			Payload:  []byte("demo message"),
		})
	}
}
