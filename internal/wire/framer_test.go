package wire

import (
	"io"
	"strings"
	"testing"
)

func TestFramerRoundTrip(t *testing.T) {
	f := NewFramer(strings.NewReader("VER 1 MSNP8\r\nOUT\r\n"))

	cmd, err := f.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != "VER" || len(cmd.Args) != 2 || cmd.Args[0] != "1" || cmd.Args[1] != "MSNP8" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	cmd, err = f.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != "OUT" {
		t.Fatalf("expected OUT, got %+v", cmd)
	}

	_, err = f.ReadCommand()
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFramerPayloadBody(t *testing.T) {
	f := NewFramer(strings.NewReader("MSG 5 A 11\r\nhello world"))

	cmd, err := f.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != "MSG" {
		t.Fatalf("expected MSG, got %s", cmd.Verb)
	}
	if string(cmd.Payload) != "hello world" {
		t.Fatalf("unexpected payload: %q", cmd.Payload)
	}
	txID, ok := cmd.TxID()
	if !ok || txID != 5 {
		t.Fatalf("unexpected txid: %v %v", txID, ok)
	}
}

func TestFramerPayloadCanContainCRLF(t *testing.T) {
	f := NewFramer(strings.NewReader("MSG 1 A 6\r\nab\r\ncd"))
	cmd, err := f.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	if string(cmd.Payload) != "ab\r\ncd" {
		t.Fatalf("unexpected payload: %q", cmd.Payload)
	}
}

func TestFramerRejectsOversizedLine(t *testing.T) {
	f := NewFramer(strings.NewReader("VER 1 " + strings.Repeat("x", MaxLineBytes*2) + "\r\n"))
	_, err := f.ReadCommand()
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}

func TestFramerRejectsOversizedPayload(t *testing.T) {
	f := NewFramer(strings.NewReader("MSG 1 A 100000\r\n"))
	_, err := f.ReadCommand()
	if err == nil {
		t.Fatal("expected framing error for oversized payload")
	}
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}
