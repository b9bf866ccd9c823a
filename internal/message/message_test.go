package message_test

import (
	"testing"

	"github.com/downfa11-org/partition-consumer/internal/message"
)

func TestIDEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b message.ID
		want bool
	}{
		{
			name: "identical individual ids",
			a:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Individual},
			b:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Individual},
			want: true,
		},
		{
			name: "different entry",
			a:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0},
			b:    message.ID{LedgerID: 1, EntryID: 3, Partition: 0},
			want: false,
		},
		{
			name: "cumulative ids differ only by acker are equal",
			a:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Cumulative, BatchIndex: 1, Acker: fakeAcker{}},
			b:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Cumulative, BatchIndex: 1, Acker: nil},
			want: true,
		},
		{
			name: "cumulative ids differ by batch index",
			a:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Cumulative, BatchIndex: 1},
			b:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Cumulative, BatchIndex: 2},
			want: false,
		},
		{
			name: "individual vs cumulative at same coordinates differ",
			a:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Individual},
			b:    message.ID{LedgerID: 1, EntryID: 2, Partition: 0, Type: message.Cumulative, BatchIndex: 0},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			// Key() must agree with Equal() as a map-key proxy.
			if (tt.a.Key() == tt.b.Key()) != tt.want {
				t.Errorf("Key() agreement mismatch for %v vs %v", tt.a, tt.b)
			}
		})
	}
}

func TestCompressionTypeString(t *testing.T) {
	cases := map[message.CompressionType]string{
		message.CompressionNone:    "none",
		message.CompressionLZ4:    "lz4",
		message.CompressionZLib:   "zlib",
		message.CompressionZStd:   "zstd",
		message.CompressionSnappy: "snappy",
		message.CompressionType(99): "unknown",
	}
	for ct, want := range cases {
		if got := ct.String(); got != want {
			t.Errorf("CompressionType(%d).String() = %q, want %q", ct, got, want)
		}
	}
}

type fakeAcker struct{}

func (fakeAcker) AckIndividual(int) bool { return false }
func (fakeAcker) AckGroup(int) bool      { return false }
func (fakeAcker) BatchSize() int         { return 0 }
func (fakeAcker) OutstandingAcks() int   { return 0 }
