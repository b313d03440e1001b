package msnpd

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/router"
	"github.com/frostbite2000/msnp-server/internal/session"
	"github.com/frostbite2000/msnp-server/internal/store"
	"github.com/frostbite2000/msnp-server/internal/version"
)

func testLogger() *logging.Logger { return logging.MustGetLogger("msnpd-test") }

func newTestServer(t *testing.T) (*Server, string) {
	st, err := store.NewMemoryStore(16, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(testLogger())
	rtr := router.New(reg, st, nil, testLogger())

	cfg := session.Config{
		SupportedVersions: []string{"MSNP8"},
		PingInterval:      60 * time.Second,
		SessionTimeout:    90 * time.Second,
		HandshakeTimeout:  60 * time.Second,
		MaxMessageLength:  1664,
		Build:             version.DefaultBuild(),
		DrainTimeout:      time.Second,
	}

	srv := New("127.0.0.1:0", 10, cfg, reg, rtr, st, testLogger())
	return srv, ""
}

func TestServerAcceptsAndSpeaksMSNP(t *testing.T) {
	srv, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	srv.listenAddr = addr

	go srv.ListenAndServe()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	rw.WriteString("VER 1 MSNP8\r\n")
	rw.Flush()

	line, err := rw.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "VER 1 MSNP8\r\n" {
		t.Fatalf("got %q", line)
	}

	srv.Shutdown()
}
