package batch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/downfa11-org/partition-consumer/internal/message"
)

// SubMessage is a single entry read out of a decompressed batch payload,
// tupled as (metadata bytes length-prefixed, payload bytes length-prefixed)
// per spec.md §4.5.
type SubMessage struct {
	Properties map[string]string
	Key        string
	Payload    []byte
}

// Split walks a decompressed batch payload — a concatenation of
// (length-prefixed single-message-metadata, payload-bytes) tuples — and
// reconstructs count sub-messages. It does not assign message ids; the
// caller (the consumer actor) is responsible for stamping each sub-message
// with a Cumulative id sharing the outer frame's ledger/entry/partition and
// a fresh Acker sized to count.
func Split(payload []byte, count int) ([]SubMessage, error) {
	if count <= 0 {
		return nil, fmt.Errorf("batch: non-positive num_messages %d", count)
	}

	out := make([]SubMessage, 0, count)
	r := bytes.NewReader(payload)

	for i := 0; i < count; i++ {
		var metaLen uint32
		if err := binary.Read(r, binary.BigEndian, &metaLen); err != nil {
			return nil, fmt.Errorf("batch: read metadata length for sub-message %d: %w", i, err)
		}
		metaBytes := make([]byte, metaLen)
		if _, err := readFull(r, metaBytes); err != nil {
			return nil, fmt.Errorf("batch: read metadata for sub-message %d: %w", i, err)
		}
		key, props, err := decodeSingleMetadata(metaBytes)
		if err != nil {
			return nil, fmt.Errorf("batch: decode metadata for sub-message %d: %w", i, err)
		}

		var payloadLen uint32
		if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
			return nil, fmt.Errorf("batch: read payload length for sub-message %d: %w", i, err)
		}
		payloadBytes := make([]byte, payloadLen)
		if _, err := readFull(r, payloadBytes); err != nil {
			return nil, fmt.Errorf("batch: read payload for sub-message %d: %w", i, err)
		}

		out = append(out, SubMessage{Key: key, Properties: props, Payload: payloadBytes})
	}

	return out, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// decodeSingleMetadata parses the tiny per-submessage metadata blob: a
// 2-byte key length, key bytes, a 2-byte property count, then that many
// (2-byte key length, key, 2-byte value length, value) tuples.
func decodeSingleMetadata(data []byte) (key string, props map[string]string, err error) {
	r := bytes.NewReader(data)

	var keyLen uint16
	if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return "", nil, fmt.Errorf("read key length: %w", err)
	}
	keyBytes := make([]byte, keyLen)
	if _, err := readFull(r, keyBytes); err != nil {
		return "", nil, fmt.Errorf("read key: %w", err)
	}

	var propCount uint16
	if err := binary.Read(r, binary.BigEndian, &propCount); err != nil {
		return "", nil, fmt.Errorf("read property count: %w", err)
	}

	props = make(map[string]string, propCount)
	for i := 0; i < int(propCount); i++ {
		var kLen uint16
		if err := binary.Read(r, binary.BigEndian, &kLen); err != nil {
			return "", nil, fmt.Errorf("read property %d key length: %w", i, err)
		}
		k := make([]byte, kLen)
		if _, err := readFull(r, k); err != nil {
			return "", nil, fmt.Errorf("read property %d key: %w", i, err)
		}

		var vLen uint16
		if err := binary.Read(r, binary.BigEndian, &vLen); err != nil {
			return "", nil, fmt.Errorf("read property %d value length: %w", i, err)
		}
		v := make([]byte, vLen)
		if _, err := readFull(r, v); err != nil {
			return "", nil, fmt.Errorf("read property %d value: %w", i, err)
		}

		props[string(k)] = string(v)
	}

	return string(keyBytes), props, nil
}

// EncodeSingleMetadata is the inverse of decodeSingleMetadata, exported for
// tests that need to build a synthetic batch payload.
func EncodeSingleMetadata(key string, props map[string]string) []byte {
	var buf bytes.Buffer
	keyBytes := []byte(key)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(keyBytes)))
	buf.Write(keyBytes)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(props)))
	for k, v := range props {
		kb, vb := []byte(k), []byte(v)
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(kb)))
		buf.Write(kb)
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(vb)))
		buf.Write(vb)
	}
	return buf.Bytes()
}

// EncodeBatchPayload packs sub-messages into the tuple stream Split reads,
// exported for tests building synthetic batch frames end to end.
func EncodeBatchPayload(subs []SubMessage) []byte {
	var buf bytes.Buffer
	for _, s := range subs {
		meta := EncodeSingleMetadata(s.Key, s.Properties)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(meta)))
		buf.Write(meta)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(s.Payload)))
		buf.Write(s.Payload)
	}
	return buf.Bytes()
}

// StampIDs assigns a Cumulative message.ID to each decoded sub-message,
// sharing the outer frame's ledger/entry/partition/topic and a single fresh
// Acker sized to len(subs).
func StampIDs(outer message.ID, topic string, subs []SubMessage) ([]message.Message, *Acker) {
	acker := NewAcker(len(subs))
	msgs := make([]message.Message, len(subs))
	for i, s := range subs {
		msgs[i] = message.Message{
			ID: message.ID{
				LedgerID:   outer.LedgerID,
				EntryID:    outer.EntryID,
				Partition:  outer.Partition,
				TopicName:  topic,
				Type:       message.Cumulative,
				BatchIndex: i,
				Acker:      acker,
			},
			Payload:    s.Payload,
			Properties: s.Properties,
			Key:        s.Key,
		}
	}
	return msgs, acker
}
