package realtime

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

func testClient(h *Hub, id string) *Client {
	c := newClient(id, nil, zerolog.Nop())
	h.register(c)
	return c
}

func nextFrame(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case data := <-c.send:
		var out struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		return outbound{Event: out.Event, Data: out.Data}
	default:
		t.Fatalf("no frame queued for %s", c.ID)
	}
	return outbound{}
}

func TestEmitToRoomReachesOnlyMembers(t *testing.T) {
	h := NewHub()
	a, b, other := testClient(h, "a"), testClient(h, "b"), testClient(h, "c")
	h.Join("a", "r1")
	h.Join("b", "r1")
	h.Join("c", "r2")

	h.EmitToRoom("r1", "chat-message", map[string]string{"content": "hi"})
	for _, c := range []*Client{a, b} {
		if f := nextFrame(t, c); f.Event != "chat-message" {
			t.Fatalf("%s got %s", c.ID, f.Event)
		}
	}
	if len(other.send) != 0 {
		t.Fatalf("non-member received a frame")
	}
}

func TestLeaveAndUnregister(t *testing.T) {
	h := NewHub()
	a := testClient(h, "a")
	h.Join("a", "r1")
	h.Join("a", "r2")
	h.Join("a", "r3")

	h.LeaveTransportRoom("a", "r2")
	rooms := h.RoomsOf("a")
	sort.Strings(rooms)
	if len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r3" {
		t.Fatalf("RoomsOf = %v", rooms)
	}
	if len(h.Members("r2")) != 0 {
		t.Fatalf("r2 still has members")
	}

	joined := h.unregister(a)
	if len(joined) != 2 {
		t.Fatalf("unregister returned %v", joined)
	}
	if h.ClientCount() != 0 || len(h.Members("r1")) != 0 {
		t.Fatalf("client still tracked")
	}
	if h.EmitToSocket("a", "warning", "x") {
		t.Fatalf("emit to unregistered socket reported success")
	}
}

func TestClosedClientRejectsFrames(t *testing.T) {
	h := NewHub()
	a := testClient(h, "a")
	if !h.CloseSocket("a") {
		t.Fatalf("CloseSocket returned false for a live socket")
	}
	a.close()
	if h.EmitToSocket("a", "warning", "x") {
		t.Fatalf("closed client accepted a frame")
	}
	if h.CloseSocket("missing") {
		t.Fatalf("CloseSocket returned true for an unknown socket")
	}
}

func TestRoomIDOf(t *testing.T) {
	cases := map[string]string{
		`"abc"`:            "abc",
		`{"roomId":"def"}`: "def",
		`"  "`:             "",
		`42`:               "",
	}
	for in, want := range cases {
		got, ok := roomIDOf(json.RawMessage(in))
		if got != want || ok != (want != "") {
			t.Fatalf("roomIDOf(%s) = %q, %v", in, got, ok)
		}
	}
}
