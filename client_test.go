package xorsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/xorsock/frame"
	"github.com/Zereker/xorsock/obfuscate"
)

// startTestServer runs a Server on a loopback port with the given handler.
func startTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()

	server, err := New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, ServerLoggerOption(discardLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx, handler)
	}()

	t.Cleanup(func() {
		cancel()
		server.Close()
		<-done
	})
	return server
}

func startAckServer(t *testing.T, opt ...Option) (*Server, *AckHandler) {
	t.Helper()

	handler, err := NewAckHandler(append([]Option{LoggerOption(discardLogger())}, opt...)...)
	if err != nil {
		t.Fatalf("NewAckHandler failed: %v", err)
	}
	return startTestServer(t, handler), handler
}

func dialTestClient(t *testing.T, server *Server, opt ...Option) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, server.Addr().String(),
		append([]Option{LoggerOption(discardLogger()), IdleTimeoutOption(5 * time.Second)}, opt...)...)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_SendAndAwaitAck(t *testing.T) {
	server, _ := startAckServer(t, KeyOption(testKey))
	client := dialTestClient(t, server, KeyOption(testKey))

	for _, msg := range []string{"hello", "日本語", "a longer message with spaces"} {
		ack, err := client.SendAndAwaitAck(msg)
		if err != nil {
			t.Fatalf("SendAndAwaitAck(%q) failed: %v", msg, err)
		}
		if want := Acknowledgment(len(msg)); ack != want {
			t.Errorf("ack = %q, want %q", ack, want)
		}
	}
}

func TestClient_KeyMismatch(t *testing.T) {
	server, _ := startAckServer(t, KeyOption("server-key"))
	client := dialTestClient(t, server, KeyOption("other-key"))

	ack, err := client.SendAndAwaitAck("hello")
	if err != nil {
		t.Fatalf("SendAndAwaitAck failed: %v", err)
	}
	// The byte count survives a key mismatch, the text does not.
	if ack == Acknowledgment(5) {
		t.Error("ack decoded correctly with mismatched keys")
	}
}

func TestClient_Interactive_Sequential(t *testing.T) {
	// The handler checks that nothing else is in flight once it has read a
	// request, which proves the client waits for each acknowledgment.
	var (
		mu        sync.Mutex
		sizes     []int
		pipelined bool
	)
	server := startTestServer(t, HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			payload, err := frame.Read(reader, frame.Limits{})
			if err != nil {
				return
			}

			_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			if _, err = reader.Peek(1); err == nil {
				mu.Lock()
				pipelined = true
				mu.Unlock()
			}

			mu.Lock()
			sizes = append(sizes, len(payload))
			mu.Unlock()

			ack, _ := obfuscate.Apply([]byte(Acknowledgment(len(payload))), testKey)
			if err = frame.Write(conn, ack, frame.Limits{}); err != nil {
				return
			}
		}
	}))
	client := dialTestClient(t, server, KeyOption(testKey))

	var acks []string
	prompts := 0
	err := client.Interactive(strings.NewReader("a\nbb\nccc\n"),
		func() { prompts++ },
		func(message, ack string) { acks = append(acks, message+"|"+ack) },
	)
	if err != nil {
		t.Fatalf("Interactive failed: %v", err)
	}

	want := []string{
		"a|ACK: Received 1 bytes",
		"bb|ACK: Received 2 bytes",
		"ccc|ACK: Received 3 bytes",
	}
	if fmt.Sprint(acks) != fmt.Sprint(want) {
		t.Errorf("acks = %q, want %q", acks, want)
	}
	if prompts != 4 {
		t.Errorf("prompts = %d, want 4", prompts)
	}

	mu.Lock()
	defer mu.Unlock()
	if pipelined {
		t.Error("client sent a request before receiving the previous acknowledgment")
	}
	if fmt.Sprint(sizes) != "[1 2 3]" {
		t.Errorf("sizes = %v, want [1 2 3]", sizes)
	}
}

func TestClient_Interactive_EmptyLineStops(t *testing.T) {
	server, _ := startAckServer(t)
	client := dialTestClient(t, server)

	var acks []string
	err := client.Interactive(strings.NewReader("first\n\nsecond\n"), nil,
		func(_, ack string) { acks = append(acks, ack) })
	if err != nil {
		t.Fatalf("Interactive failed: %v", err)
	}

	if len(acks) != 1 {
		t.Errorf("got %d acks, want 1", len(acks))
	}

	if _, err = client.SendAndAwaitAck("after"); !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected net.ErrClosed after session end, got %v", err)
	}
}

func TestClient_Interactive_EOFWithoutNewline(t *testing.T) {
	server, _ := startAckServer(t)
	client := dialTestClient(t, server)

	var acks []string
	err := client.Interactive(strings.NewReader("one\r\ntwo"), nil,
		func(_, ack string) { acks = append(acks, ack) })
	if err != nil {
		t.Fatalf("Interactive failed: %v", err)
	}

	want := []string{Acknowledgment(3), Acknowledgment(3)}
	if fmt.Sprint(acks) != fmt.Sprint(want) {
		t.Errorf("acks = %q, want %q", acks, want)
	}
}

func TestClient_ServerClosesAfterOneFrame(t *testing.T) {
	server := startTestServer(t, HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		defer conn.Close()
		_, _ = frame.Read(conn, frame.Limits{})
	}))
	client := dialTestClient(t, server)

	done := make(chan error, 1)
	go func() {
		_, err := client.SendAndAwaitAck("anyone there?")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after the server closed")
		}
		if !IsConnectionClosed(err) {
			t.Errorf("expected a connection-closed error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendAndAwaitAck hung after the server closed")
	}
}

func TestClient_ConcurrentClients(t *testing.T) {
	server, _ := startAckServer(t)

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		i := i
		group.Go(func() error {
			client, err := Dial(ctx, server.Addr().String(), LoggerOption(discardLogger()))
			if err != nil {
				return err
			}
			defer client.Close()

			for j := 0; j < 20; j++ {
				msg := strings.Repeat("m", i*10+j+1)
				ack, err := client.SendAndAwaitAck(msg)
				if err != nil {
					return err
				}
				if want := Acknowledgment(len(msg)); ack != want {
					return fmt.Errorf("client %d: ack = %q, want %q", i, ack, want)
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSendOnce(t *testing.T) {
	server, _ := startAckServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := SendOnce(ctx, server.Addr().String(), "single shot", LoggerOption(discardLogger()))
	if err != nil {
		t.Fatalf("SendOnce failed: %v", err)
	}
	if ack != Acknowledgment(11) {
		t.Errorf("ack = %q, want %q", ack, Acknowledgment(11))
	}
}

func TestDial_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err = Dial(ctx, addr); err == nil {
		t.Error("expected dial error")
	}
}

func TestClient_Close(t *testing.T) {
	server, _ := startAckServer(t)
	client := dialTestClient(t, server)

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := client.SendAndAwaitAck("x"); !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected net.ErrClosed, got %v", err)
	}
}

func TestClient_FailureIsSticky(t *testing.T) {
	// Acknowledges every request, but only after the client has given up.
	server := startTestServer(t, HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			payload, err := frame.Read(reader, frame.Limits{})
			if err != nil {
				return
			}
			time.Sleep(300 * time.Millisecond)
			ack, _ := obfuscate.Apply([]byte(Acknowledgment(len(payload))), obfuscate.DefaultKey)
			if err = frame.Write(conn, ack, frame.Limits{}); err != nil {
				return
			}
		}
	}))
	client := dialTestClient(t, server, IdleTimeoutOption(100*time.Millisecond))

	_, err := client.SendAndAwaitAck("too slow")
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// Wait until the late acknowledgment has certainly arrived.
	time.Sleep(400 * time.Millisecond)

	ack, err := client.SendAndAwaitAck("x")
	if err == nil {
		t.Fatalf("second call succeeded with ack %q after a failed exchange", ack)
	}
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected the original timeout, got %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed after a failed exchange")
	}
}

func TestClient_OnMessageBeforeAck(t *testing.T) {
	// Reads one request and hangs up without acknowledging it.
	server := startTestServer(t, HandlerFunc(func(ctx context.Context, conn *net.TCPConn) {
		defer conn.Close()
		_, _ = frame.Read(conn, frame.Limits{})
	}))

	var sent []string
	client := dialTestClient(t, server, OnMessageOption(func(m Message) error {
		sent = append(sent, m.Text())
		return nil
	}))

	if _, err := client.SendAndAwaitAck("unanswered"); !IsConnectionClosed(err) {
		t.Fatalf("expected a connection-closed error, got %v", err)
	}
	if len(sent) != 1 || sent[0] != "unanswered" {
		t.Errorf("sent = %q, want [unanswered]", sent)
	}
}

func TestClient_OnMessageError(t *testing.T) {
	server, _ := startAckServer(t)
	boom := errors.New("observer failed")
	client := dialTestClient(t, server, OnMessageOption(func(Message) error { return boom }))

	if _, err := client.SendAndAwaitAck("hello"); !errors.Is(err, boom) {
		t.Fatalf("expected observer error, got %v", err)
	}
	if _, err := client.SendAndAwaitAck("again"); !errors.Is(err, boom) {
		t.Errorf("expected the first failure again, got %v", err)
	}
}
