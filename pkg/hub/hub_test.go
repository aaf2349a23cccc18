package hub

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/protocol"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}

func recv(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("no message within 1s")
		return Message{}, false
	}
}

func TestHub_BroadcastFanOut(t *testing.T) {
	h, _ := startHub(t)

	a, ok := NewClient(h, nil)
	if !ok {
		t.Fatal("join failed")
	}
	b, _ := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{a, b} {
		m, ok := recv(t, c)
		if !ok || string(m.Data) != `{"n":1}` {
			t.Errorf("got %q, %v", m.Data, ok)
		}
	}
}

func TestHub_BroadcastProtocolMessage(t *testing.T) {
	h, _ := startHub(t)
	c, _ := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	msg, err := protocol.NewEventMessage(protocol.EventData{Kind: "cup_taken", Index: 2})
	if err != nil {
		t.Fatal(err)
	}
	want, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := h.BroadcastJSON(msg); err != nil {
		t.Fatal(err)
	}
	m, ok := recv(t, c)
	if !ok || string(m.Data) != string(want) {
		t.Errorf("got %s, want %s", m.Data, want)
	}

	if err := h.BroadcastJSON(func() {}); err == nil {
		t.Error("unencodable value should fail")
	}
}

func TestHub_InitialMessagesFirst(t *testing.T) {
	h, _ := startHub(t)
	c, _ := NewClient(h, nil, NewJSONMessage([]byte(`"hello"`)))
	waitFor(t, func() bool { return h.ClientCount() == 1 })
	h.Broadcast(NewJSONMessage([]byte(`"later"`)))

	if m, _ := recv(t, c); string(m.Data) != `"hello"` {
		t.Errorf("first message = %q", m.Data)
	}
	if m, _ := recv(t, c); string(m.Data) != `"later"` {
		t.Errorf("second message = %q", m.Data)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h, _ := startHub(t)
	c, _ := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.leave(c)
	waitFor(t, func() bool { return h.ClientCount() == 0 })
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t)
	slow, _ := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	for i := 0; i <= sendBuffer; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	n := 0
	for range slow.send {
		n++
	}
	if n != sendBuffer {
		t.Errorf("slow client drained %d messages, want %d", n, sendBuffer)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c, _ := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	if _, ok := <-c.send; ok {
		t.Error("client should be closed when the hub stops")
	}
	<-h.done

	if _, ok := NewClient(h, nil); ok {
		t.Error("join after stop should fail")
	}
	h.leave(c) // must not block
}
