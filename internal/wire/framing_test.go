package wire

import (
	"net"
	"testing"
)

func TestWriteReadWithLengthRoundtrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("subscribe frame body")
	errCh := make(chan error, 1)
	go func() { errCh <- WriteWithLength(client, payload) }()

	got, err := ReadWithLength(server)
	if err != nil {
		t.Fatalf("ReadWithLength failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteWithLength failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteWithLengthRejectsOversizedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	oversized := make([]byte, MaxFrameSize+1)
	if err := WriteWithLength(client, oversized); err == nil {
		t.Fatal("expected an error for a frame over MaxFrameSize")
	}
}

func TestReadWithLengthRejectsOversizedHeader(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	lenBuf := []byte{0xFF, 0xFF, 0xFF, 0xFF} // encodes a length far past MaxFrameSize
	errCh := make(chan error, 1)
	go func() { _, err := client.Write(lenBuf); errCh <- err }()

	if _, err := ReadWithLength(server); err == nil {
		t.Fatal("expected an error for an oversized length header")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writing length header failed: %v", err)
	}
}
