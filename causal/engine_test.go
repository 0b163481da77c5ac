package causal

import (
	"testing"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

func msg(from int, content string, round int, clock ...int) pb.Message {
	return pb.NewMessage(from, content, pb.VectorClock(clock), round)
}

func TestDeliverable(t *testing.T) {
	cases := []struct {
		desc  string
		local pb.VectorClock
		m     pb.Message
		want  bool
	}{
		{"first message from sender", pb.VectorClock{0, 0, 0}, msg(2, "a", 0, 0, 1, 0), true},
		{"next message from sender", pb.VectorClock{1, 3, 0}, msg(2, "a", 0, 1, 4, 0), true},
		{"gap from sender", pb.VectorClock{0, 0, 0}, msg(2, "a", 0, 0, 2, 0), false},
		{"already seen", pb.VectorClock{0, 1, 0}, msg(2, "a", 0, 0, 1, 0), false},
		{"missing dependency", pb.VectorClock{0, 0, 0}, msg(2, "a", 0, 1, 1, 0), false},
		{"dependency satisfied", pb.VectorClock{1, 0, 2}, msg(2, "a", 0, 1, 1, 2), true},
		{"dependency below local", pb.VectorClock{5, 0, 5}, msg(2, "a", 0, 1, 1, 0), true},
		{"wrong clock length", pb.VectorClock{0, 0, 0}, msg(2, "a", 0, 0, 1), false},
		{"sender out of range", pb.VectorClock{0, 0}, msg(3, "a", 0, 0, 0), false},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			if got := Deliverable(c.local, c.m); got != c.want {
				t.Fatalf("Deliverable(%s, %s) = %v, expected %v", c.local, c.m, got, c.want)
			}
		})
	}
}

func TestEngine_IdempotentDelivery(t *testing.T) {
	e := NewEngine(1, 2, log.Nop())
	m := msg(2, "hello", 0, 0, 1)

	if !e.OnReceive(m) {
		t.Fatal("first receive should be accepted")
	}
	// same value, different backing array
	if e.OnReceive(msg(2, "hello", 0, 0, 1)) {
		t.Fatal("second receive of the same message should be a no-op")
	}
	if e.Received() != 1 || e.Buffered() != 0 {
		t.Fatalf("expected 1 received and 0 buffered, got %d and %d", e.Received(), e.Buffered())
	}

	e.AcceptLocal(e.Stamp("mine"))
	if _, ok := e.FlushRound(); !ok {
		t.Fatal("round 0 should be complete")
	}
	if e.OnReceive(m) {
		t.Fatal("receiving a delivered message should be a no-op")
	}
	if e.Delivered() != 2 {
		t.Fatalf("expected 2 delivered, got %d", e.Delivered())
	}
	if !e.IsDelivered(m) {
		t.Fatalf("%s should be delivered", m)
	}
}

func TestEngine_FixedPointDrain(t *testing.T) {
	e := NewEngine(1, 3, log.Nop())

	a := msg(2, "a", 0, 0, 1, 0)
	b := msg(3, "b", 0, 0, 1, 1) // after a
	c := msg(2, "c", 1, 0, 2, 1) // after a and b

	e.OnReceive(c)
	e.OnReceive(b)
	if e.Buffered() != 2 {
		t.Fatalf("expected 2 buffered, got %d", e.Buffered())
	}
	// the live clock already covers what arrived
	if !e.Clock().Equal(pb.VectorClock{0, 2, 1}) {
		t.Fatalf("expected live clock [0, 2, 1], got %s", e.Clock())
	}
	if !e.Applied().Equal(pb.VectorClock{0, 0, 0}) {
		t.Fatalf("expected nothing applied yet, got %s", e.Applied())
	}

	e.OnReceive(a)
	if e.Buffered() != 0 {
		t.Fatalf("expected the whole chain to drain, %d still buffered", e.Buffered())
	}
	if e.Received() != 3 {
		t.Fatalf("expected 3 received, got %d", e.Received())
	}
	if !e.Applied().Equal(pb.VectorClock{0, 2, 1}) {
		t.Fatalf("expected applied [0, 2, 1], got %s", e.Applied())
	}
}

func TestEngine_CheckAndDeliverBuffered(t *testing.T) {
	e := NewEngine(1, 2, log.Nop())
	e.OnReceive(msg(2, "two", 1, 0, 2))
	e.OnReceive(msg(2, "three", 2, 0, 3))
	if n := e.CheckAndDeliverBuffered(); n != 0 {
		t.Fatalf("nothing should be deliverable yet, moved %d", n)
	}
	e.OnReceive(msg(2, "one", 0, 0, 1))
	if e.Buffered() != 0 || e.Received() != 3 {
		t.Fatalf("expected all 3 received, got %d buffered %d received", e.Buffered(), e.Received())
	}
}

func TestEngine_BatchOrder(t *testing.T) {
	e := NewEngine(2, 3, log.Nop())
	e.OnReceive(msg(3, "M-3", 0, 0, 0, 1))
	e.AcceptLocal(e.Stamp("M-2"))
	if _, ok := e.FlushRound(); ok {
		t.Fatal("round 0 is missing process 1")
	}
	e.OnReceive(msg(1, "M-1", 0, 1, 0, 0))

	b, ok := e.FlushRound()
	if !ok {
		t.Fatal("round 0 should be complete")
	}
	want := []string{"M-1", "M-2", "M-3"}
	got := b.Lines()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if b.Round != 0 || e.Round() != 1 {
		t.Fatalf("expected batch of round 0 and engine in round 1, got %d and %d", b.Round, e.Round())
	}
	if !e.Clock().Equal(pb.VectorClock{1, 1, 1}) {
		t.Fatalf("expected clock [1, 1, 1], got %s", e.Clock())
	}
	if _, ok := e.FlushRound(); ok {
		t.Fatal("round 1 has no messages yet")
	}
}

func TestEngine_RoundsDoNotMix(t *testing.T) {
	e := NewEngine(1, 2, log.Nop())
	// peer is a round ahead: its round 1 message depends on our round 0 one
	e.AcceptLocal(e.Stamp("p1 r0"))
	e.OnReceive(msg(2, "p2 r0", 0, 0, 1))
	e.OnReceive(msg(2, "p2 r1", 1, 1, 2))

	b, ok := e.FlushRound()
	if !ok || len(b.Messages) != 2 {
		t.Fatalf("expected round 0 with 2 messages, got %v %v", ok, b.Lines())
	}
	if _, ok := e.FlushRound(); ok {
		t.Fatal("round 1 only has the peer's message")
	}
	e.AcceptLocal(e.Stamp("p1 r1"))
	b, ok = e.FlushRound()
	if !ok || b.Round != 1 || b.Lines()[0] != "p1 r1" || b.Lines()[1] != "p2 r1" {
		t.Fatalf("unexpected round 1 batch %v %v", ok, b.Lines())
	}
}

func TestEngine_LateMessage(t *testing.T) {
	e := NewEngine(1, 2, log.Nop())
	e.AcceptLocal(e.Stamp("mine"))
	e.OnReceive(msg(2, "theirs", 0, 0, 1))
	if _, ok := e.FlushRound(); !ok {
		t.Fatal("round 0 should be complete")
	}

	// a second round 0 message from a misbehaving peer is still delivered
	stale := msg(2, "stale", 0, 1, 2)
	e.OnReceive(stale)
	b, ok := e.FlushRound()
	if !ok || !b.Late || b.Round != 0 || b.Lines()[0] != "stale" {
		t.Fatalf("expected a late batch with the stale message, got %v %+v", ok, b)
	}
	if !e.IsDelivered(stale) || e.Round() != 1 {
		t.Fatalf("late delivery must not move the round, round is %d", e.Round())
	}
}

func TestEngine_RejectsForeignMessages(t *testing.T) {
	e := NewEngine(1, 3, log.Nop())
	if e.OnReceive(msg(2, "short clock", 0, 0, 1)) {
		t.Fatal("message with a clock of the wrong size should be rejected")
	}
	if e.OnReceive(msg(4, "unknown sender", 0, 0, 0, 0)) {
		t.Fatal("message from outside the group should be rejected")
	}
	if !e.Clock().Equal(pb.VectorClock{0, 0, 0}) {
		t.Fatalf("rejected messages must not touch the clock, got %s", e.Clock())
	}
}

func TestEngine_ClockNeverDecreases(t *testing.T) {
	e := NewEngine(1, 3, log.Nop())
	prev := e.Clock()
	check := func(event string) {
		t.Helper()
		cur := e.Clock()
		if !prev.LessOrEqual(cur) {
			t.Fatalf("after %s: clock went from %s to %s", event, prev, cur)
		}
		prev = cur
	}

	// out of order arrivals, duplicates, a stale clock and a rejected
	// message mixed with local broadcasts
	events := []struct {
		desc string
		run  func()
	}{
		{"receive from 3 ahead of its dependency", func() { e.OnReceive(msg(3, "c1", 0, 0, 1, 1)) }},
		{"local broadcast", func() { e.AcceptLocal(e.Stamp("a1")) }},
		{"receive dependency from 2", func() { e.OnReceive(msg(2, "b1", 0, 0, 1, 0)) }},
		{"duplicate", func() { e.OnReceive(msg(2, "b1", 0, 0, 1, 0)) }},
		{"flush", func() { e.FlushRound() }},
		{"receive with a smaller clock", func() { e.OnReceive(msg(2, "b2", 1, 0, 2, 0)) }},
		{"rejected message", func() { e.OnReceive(msg(2, "bad", 1, 0, 0)) }},
		{"local broadcast", func() { e.AcceptLocal(e.Stamp("a2")) }},
		{"receive far ahead", func() { e.OnReceive(msg(3, "c3", 2, 2, 2, 3)) }},
		{"local broadcast", func() { e.AcceptLocal(e.Stamp("a3")) }},
	}
	for _, ev := range events {
		ev.run()
		check(ev.desc)
	}
	if !e.Clock().Equal(pb.VectorClock{3, 2, 3}) {
		t.Fatalf("expected final clock [3, 2, 3], got %s", e.Clock())
	}
	// c3 and a3 both wait for process 3's second message
	if e.Buffered() != 2 {
		t.Fatalf("expected c3 and a3 buffered, got %d", e.Buffered())
	}
}
