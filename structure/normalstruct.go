package structure

import (
	"fmt"
)

// Message is one broadcast. It is treated as an immutable value once built.
type Message struct {
	SenderID int         `json:"senderid"`
	Content  string      `json:"content"`
	Clock    VectorClock `json:"clock"`
	Round    int         `json:"round"`
}

// NewMessage copies clock so the message never aliases the sender's live clock.
func NewMessage(senderID int, content string, clock VectorClock, round int) Message {
	return Message{
		SenderID: senderID,
		Content:  content,
		Clock:    clock.Snapshot(),
		Round:    round,
	}
}

// Key identifies a message by value: sender, round, clock and content.
func (m Message) Key() string {
	return fmt.Sprintf("%d/%d/%s/%d:%s", m.SenderID, m.Round, m.Clock, len(m.Content), m.Content)
}

// Seq is the sender's own counter in the message clock, i.e. its position
// in the sender's broadcast order.
func (m Message) Seq() int {
	if m.SenderID < 1 || m.SenderID > len(m.Clock) {
		return 0
	}
	return m.Clock.Get(m.SenderID)
}

func (m Message) String() string {
	return fmt.Sprintf("msg{from %d round %d clock %s %q}", m.SenderID, m.Round, m.Clock, m.Content)
}

// Hello is the first frame written on every link in both directions.
// Addr is the listen address of the writer, so that both ends of a link
// name the peer the same way no matter who dialed.
type Hello struct {
	ID   int    `json:"id"`
	Addr string `json:"addr"`
}

type FrameKind int

const (
	KindHello   FrameKind = 1
	KindMessage FrameKind = 2
)

// Frame is one unit on a link.
type Frame struct {
	Kind  FrameKind
	Hello Hello
	Msg   Message
}
