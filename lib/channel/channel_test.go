// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/icecc-go/driver/lib/protocol"
)

func pipePair() (*Channel, *Channel) {
	a, b := net.Pipe()
	return New(a), New(b)
}

func TestSendReceiveRoundtrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	want := protocol.Message{Type: protocol.UseCS, Hostname: "cs1", Port: 10245, GotEnv: true}

	errc := make(chan error, 1)
	go func() {
		errc <- client.SendMessage(want, time.Now().Add(5*time.Second))
	}()

	got, err := server.ReceiveMessage(time.Now().Add(5 * time.Second))
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got.Type != want.Type || got.Hostname != want.Hostname || got.Port != want.Port {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileChunkCompressionRoundtrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 100)
	want := protocol.Message{Type: protocol.FileChunk, Data: payload}

	errc := make(chan error, 1)
	go func() {
		errc <- client.SendMessage(want, time.Now().Add(5*time.Second))
	}()

	got, err := server.ReceiveMessage(time.Now().Add(5 * time.Second))
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if !bytes.Equal(got.Data, payload) {
		t.Errorf("roundtripped payload differs, got %d bytes want %d", len(got.Data), len(payload))
	}

	_, sentCompressed, _, _ := client.ByteCounters()
	if sentCompressed >= int64(len(payload)) {
		t.Errorf("highly repetitive payload did not compress: sentCompressed=%d len=%d", sentCompressed, len(payload))
	}
}

func TestSmallFileChunkNotCompressed(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	payload := []byte("tiny")
	want := protocol.Message{Type: protocol.FileChunk, Data: payload}

	errc := make(chan error, 1)
	go func() {
		errc <- client.SendMessage(want, time.Now().Add(5*time.Second))
	}()

	got, err := server.ReceiveMessage(time.Now().Add(5 * time.Second))
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if !bytes.Equal(got.Data, payload) {
		t.Errorf("payload = %q, want %q", got.Data, payload)
	}
}

func TestReceiveMessageDeadlineExceeded(t *testing.T) {
	_, server := pipePair()
	defer server.Close()

	_, err := server.ReceiveMessage(time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("ReceiveMessage with an already-past deadline returned nil error")
	}
}
