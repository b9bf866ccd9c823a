// Package config loads ConsumerConfig values the way the teacher's own
// consumer config loader does: flag registration for CLI overrides, an
// optional YAML file overlay, then defaulting.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SubscriptionType controls delivery semantics for a subscription.
type SubscriptionType int

const (
	Exclusive SubscriptionType = iota
	Shared
	Failover
	KeyShared
)

func (t SubscriptionType) String() string {
	switch t {
	case Exclusive:
		return "Exclusive"
	case Shared:
		return "Shared"
	case Failover:
		return "Failover"
	case KeyShared:
		return "KeyShared"
	default:
		return "Unknown"
	}
}

// SubscriptionInitialPosition tells the broker where a new subscription
// should start reading from; the consumer core treats it as opaque data
// forwarded on the subscribe frame.
type SubscriptionInitialPosition int

const (
	Latest SubscriptionInitialPosition = iota
	Earliest
)

// ConsumerConfig is the immutable configuration a Consumer Actor is built
// from (spec.md §3 ConsumerConfiguration).
type ConsumerConfig struct {
	Topic                string                      `yaml:"topic" json:"topic"`
	SubscriptionName     string                      `yaml:"subscription_name" json:"subscription_name"`
	SubscriptionType     SubscriptionType             `yaml:"-" json:"-"`
	SubscriptionTypeName string                      `yaml:"subscription_type" json:"subscription_type"`
	InitialPosition      SubscriptionInitialPosition `yaml:"-" json:"-"`
	InitialPositionName  string                      `yaml:"subscription_initial_position" json:"subscription_initial_position"`

	// ReceiverQueueSize is the max number of messages buffered locally.
	// A value of 0 disables initial permits.
	ReceiverQueueSize int `yaml:"receiver_queue_size" json:"receiver_queue_size"`

	// AckTimeout is the duration an unacked message is allowed to sit
	// before being handed back for redelivery. Zero disables tracking.
	AckTimeout     time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	AckTimeoutTick time.Duration `yaml:"ack_timeout_tick" json:"ack_timeout_tick"`
	AckGroupTime   time.Duration `yaml:"ack_group_time" json:"ack_group_time"`

	ReadCompacted    bool   `yaml:"read_compacted" json:"read_compacted"`
	ConsumerName     string `yaml:"consumer_name" json:"consumer_name"`
	IsPersistent     bool   `yaml:"is_persistent_topic" json:"is_persistent_topic"`

	// HasParentConsumer suppresses the initial flow command on the first
	// connect of a partitioned consumer owned by a parent aggregator with a
	// durable subscription (spec.md §9 Open Question #1).
	HasParentConsumer bool `yaml:"-" json:"-"`

	// OperationTimeout bounds how long the initial subscribe is retried
	// before the subscribe promise fails.
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout"`
}

// Load builds a ConsumerConfig from CLI flags plus an optional YAML/JSON
// overlay file, following the teacher's config.LoadConfig shape.
func Load(args []string) (*ConsumerConfig, error) {
	fs := flag.NewFlagSet("consumer", flag.ContinueOnError)

	cfg := &ConsumerConfig{}
	fs.StringVar(&cfg.Topic, "topic", "", "Topic to consume")
	fs.StringVar(&cfg.SubscriptionName, "subscription-name", "", "Subscription name")
	fs.StringVar(&cfg.SubscriptionTypeName, "subscription-type", "Exclusive", "Exclusive|Shared|Failover|KeyShared")
	fs.StringVar(&cfg.InitialPositionName, "subscription-initial-position", "Latest", "Latest|Earliest")
	fs.IntVar(&cfg.ReceiverQueueSize, "receiver-queue-size", 1000, "Receiver queue size")
	fs.DurationVar(&cfg.AckTimeout, "ack-timeout", 0, "Unacked message redelivery timeout (0 disables)")
	fs.DurationVar(&cfg.AckTimeoutTick, "ack-timeout-tick", 0, "Unacked tracker tick interval (defaults to ack-timeout)")
	fs.DurationVar(&cfg.AckGroupTime, "ack-group-time", 100*time.Millisecond, "Ack grouping window")
	fs.BoolVar(&cfg.ReadCompacted, "read-compacted", false, "Read from the compacted topic view")
	fs.StringVar(&cfg.ConsumerName, "consumer-name", "", "Consumer name")
	fs.BoolVar(&cfg.IsPersistent, "is-persistent-topic", true, "Whether the topic is persistent")
	fs.DurationVar(&cfg.OperationTimeout, "operation-timeout", 30*time.Second, "Subscribe retry timeout")

	configPath := fs.String("config", "", "Path to YAML/JSON config file overlay")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if *configPath != "" {
		if err := overlayFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)

	var err error
	if cfg.SubscriptionType, err = parseSubscriptionType(cfg.SubscriptionTypeName); err != nil {
		return nil, err
	}
	if cfg.InitialPosition, err = parseInitialPosition(cfg.InitialPositionName); err != nil {
		return nil, err
	}

	if cfg.Topic == "" {
		return nil, fmt.Errorf("config: topic is required")
	}
	if cfg.SubscriptionName == "" {
		return nil, fmt.Errorf("config: subscription-name is required")
	}

	return cfg, nil
}

func overlayFile(cfg *ConsumerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *ConsumerConfig) {
	// ReceiverQueueSize has no default applied here: the flag already
	// defaults to 1000, and 0 is a meaningful, explicitly configurable
	// value (it disables the initial flow grant) rather than "unset".
	if cfg.AckGroupTime == 0 {
		cfg.AckGroupTime = 100 * time.Millisecond
	}
	if cfg.AckTimeoutTick == 0 {
		cfg.AckTimeoutTick = cfg.AckTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.SubscriptionTypeName == "" {
		cfg.SubscriptionTypeName = "Exclusive"
	}
	if cfg.InitialPositionName == "" {
		cfg.InitialPositionName = "Latest"
	}
}

func parseSubscriptionType(name string) (SubscriptionType, error) {
	switch strings.ToLower(name) {
	case "exclusive":
		return Exclusive, nil
	case "shared":
		return Shared, nil
	case "failover":
		return Failover, nil
	case "keyshared", "key_shared", "key-shared":
		return KeyShared, nil
	default:
		return 0, fmt.Errorf("config: unknown subscription type %q", name)
	}
}

func parseInitialPosition(name string) (SubscriptionInitialPosition, error) {
	switch strings.ToLower(name) {
	case "latest":
		return Latest, nil
	case "earliest":
		return Earliest, nil
	default:
		return 0, fmt.Errorf("config: unknown subscription initial position %q", name)
	}
}
