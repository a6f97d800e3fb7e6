package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-detect/pkg/detection"
)

type frame struct {
	kind int
	data []byte
}

type fakeConn struct {
	writes    chan frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(buf int) *fakeConn {
	return &fakeConn{writes: make(chan frame, buf), closed: make(chan struct{})}
}

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.writes <- frame{kind, data}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	conn := newFakeConn(8)
	c := NewClient(h, conn)
	go c.Run()
	waitClients(t, h, 1)

	want := detection.Batch{FrameID: 7, Backend: "synthetic", Synthetic: true,
		Detections: []detection.Detection{{Label: "person", Score: 0.9, XMax: 0.5, YMax: 0.5, FrameID: 7}}}
	if err := h.BroadcastBatch(want); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-conn.writes:
		if f.kind != websocket.TextMessage {
			t.Errorf("message type = %d, want text", f.kind)
		}
		var got detection.Batch
		if err := json.Unmarshal(f.data, &got); err != nil {
			t.Fatal(err)
		}
		if got.FrameID != 7 || len(got.Detections) != 1 || got.Detections[0].Label != "person" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message written")
	}

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	// No pumps running, so the send buffer never drains.
	c := NewClient(h, newFakeConn(0))
	waitClients(t, h, 1)

	for i := 0; i <= sendBuffer; i++ {
		h.Broadcast(Message{Binary: true, Data: []byte{byte(i)}})
		time.Sleep(100 * time.Microsecond)
	}
	waitClients(t, h, 0)

	n := 0
	for range c.send {
		n++
	}
	if n != sendBuffer {
		t.Errorf("buffered %d messages, want %d", n, sendBuffer)
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("test", nil)
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	conn := newFakeConn(1)
	c := NewClient(h, conn)
	go c.Run()
	waitClients(t, h, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if h.IsRunning() || h.ClientCount() != 0 {
		t.Error("hub still running or holding clients")
	}
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed")
	}

	// Registering after shutdown must not block.
	late := NewClient(h, newFakeConn(1))
	if _, ok := <-late.send; ok {
		t.Error("late client send channel open")
	}
}

func TestHub_Forward(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	conn := newFakeConn(8)
	go NewClient(h, conn).Run()
	waitClients(t, h, 1)

	ch := make(chan detection.Batch, 2)
	ch <- detection.Batch{FrameID: 1}
	ch <- detection.Batch{FrameID: 2}
	close(ch)
	h.Forward(ctx, ch)

	for want := uint64(1); want <= 2; want++ {
		select {
		case f := <-conn.writes:
			var b detection.Batch
			if err := json.Unmarshal(f.data, &b); err != nil || b.FrameID != want {
				t.Errorf("frame %d: %+v %v", want, b, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("batch %d not forwarded", want)
		}
	}
}
