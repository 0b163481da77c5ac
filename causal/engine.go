package causal

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

// Batch is the set of messages handed to the output in one round,
// ordered by ascending sender id.
type Batch struct {
	Round    int
	Messages []pb.Message
	Late     bool // messages tagged with a round that was already flushed
}

// Lines returns the batch contents, one per message.
func (b Batch) Lines() []string {
	lines := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		lines[i] = m.Content
	}
	return lines
}

func (b Batch) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Deliverable reports whether msg is the next message from its sender and
// depends on nothing beyond what local already covers:
// msg.Clock[s] == local[s]+1 and msg.Clock[k] <= local[k] for every k != s.
func Deliverable(local pb.VectorClock, msg pb.Message) bool {
	if len(msg.Clock) != len(local) || msg.SenderID < 1 || msg.SenderID > len(local) {
		return false
	}
	s := msg.SenderID - 1
	for k := range local {
		if k == s {
			if msg.Clock[k] != local[k]+1 {
				return false
			}
		} else if msg.Clock[k] > local[k] {
			return false
		}
	}
	return true
}

// Engine orders incoming messages causally and groups them into rounds.
//
// clock is the process's live vector clock: every incoming clock is merged
// into it on arrival, before any deliverability decision, and it is the
// clock attached to outgoing messages. applied counts, per sender, the
// messages that have passed the causal test; deliverability is judged
// against applied so that merging early never hides a gap.
//
// A message moves buffer -> received -> delivered. received holds messages
// in causal order that wait for their round to complete; a round completes
// once it holds one message from each of the n processes.
type Engine struct {
	id int
	n  int

	clock   pb.VectorClock
	applied pb.VectorClock
	round   int

	msgs      map[string]pb.Message
	buffer    mapset.Set[string]
	received  mapset.Set[string]
	delivered mapset.Set[string]
	pending   map[int][]pb.Message // round -> received messages of that round
	late      []Batch

	log log.CbLog
}

func NewEngine(id int, n int, logger log.CbLog) *Engine {
	return &Engine{
		id:        id,
		n:         n,
		clock:     pb.NewVectorClock(n),
		applied:   pb.NewVectorClock(n),
		msgs:      make(map[string]pb.Message),
		buffer:    mapset.NewThreadUnsafeSet[string](),
		received:  mapset.NewThreadUnsafeSet[string](),
		delivered: mapset.NewThreadUnsafeSet[string](),
		pending:   make(map[int][]pb.Message),
		log:       logger.With("engine").WithInt("id", id),
	}
}

// IsDeliverable applies Deliverable against the messages already taken in.
func (e *Engine) IsDeliverable(msg pb.Message) bool {
	return Deliverable(e.applied, msg)
}

func (e *Engine) seen(key string) bool {
	return e.buffer.Contains(key) || e.received.Contains(key) || e.delivered.Contains(key)
}

func (e *Engine) valid(msg pb.Message) bool {
	return msg.SenderID >= 1 && msg.SenderID <= e.n && len(msg.Clock) == e.n && msg.Round >= 0
}

// OnReceive takes in a message from a peer. It reports false for a
// message already known by value or one that does not fit the group.
func (e *Engine) OnReceive(msg pb.Message) bool {
	if !e.valid(msg) {
		e.log.Z().Warn().Int("from", msg.SenderID).Int("clocklen", len(msg.Clock)).Msg("ignoring message that does not fit the group")
		return false
	}
	key := msg.Key()
	if e.seen(key) {
		e.log.Z().Debug().Str("msg", msg.String()).Msg("duplicate message")
		return false
	}

	e.clock.MergeMax(msg.Clock)

	if e.IsDeliverable(msg) {
		e.admit(key, msg)
		e.CheckAndDeliverBuffered()
	} else {
		e.msgs[key] = msg
		e.buffer.Add(key)
		e.log.Z().Debug().Str("msg", msg.String()).Str("applied", e.applied.String()).Msg("buffered")
	}
	return true
}

// Stamp increments this process's own slot and builds the next message.
func (e *Engine) Stamp(content string) pb.Message {
	e.clock.Increment(e.id)
	return pb.NewMessage(e.id, content, e.clock, e.round)
}

// AcceptLocal takes in a message this process just broadcast.
func (e *Engine) AcceptLocal(msg pb.Message) bool {
	key := msg.Key()
	if msg.SenderID != e.id || e.seen(key) {
		return false
	}
	e.clock.MergeMax(msg.Clock)
	if !e.IsDeliverable(msg) {
		// the live clock already covers messages still in the buffer
		e.log.Z().Debug().Str("msg", msg.String()).Str("applied", e.applied.String()).Msg("own message waits for buffered dependencies")
		e.msgs[key] = msg
		e.buffer.Add(key)
		return true
	}
	e.admit(key, msg)
	e.CheckAndDeliverBuffered()
	return true
}

func (e *Engine) admit(key string, msg pb.Message) {
	e.applied[msg.SenderID-1] = msg.Clock[msg.SenderID-1]
	if msg.Round < e.round {
		e.log.Z().Warn().Str("msg", msg.String()).Int("round", e.round).Msg("message for a finished round")
		e.delivered.Add(key)
		delete(e.msgs, key)
		e.late = append(e.late, Batch{Round: msg.Round, Messages: []pb.Message{msg}, Late: true})
		return
	}
	e.msgs[key] = msg
	e.received.Add(key)
	e.pending[msg.Round] = append(e.pending[msg.Round], msg)
}

// CheckAndDeliverBuffered moves every buffered message that has become
// deliverable into causal order, repeating until a pass makes no progress.
// It returns how many messages it moved.
func (e *Engine) CheckAndDeliverBuffered() int {
	moved := 0
	for progress := true; progress; {
		progress = false
		for _, msg := range e.bufferedInOrder() {
			if !e.IsDeliverable(msg) {
				continue
			}
			key := msg.Key()
			e.buffer.Remove(key)
			e.admit(key, msg)
			moved++
			progress = true
		}
	}
	return moved
}

func (e *Engine) bufferedInOrder() []pb.Message {
	msgs := make([]pb.Message, 0, e.buffer.Cardinality())
	e.buffer.Each(func(key string) bool {
		msgs = append(msgs, e.msgs[key])
		return false
	})
	sortBySender(msgs)
	return msgs
}

func sortBySender(msgs []pb.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SenderID != msgs[j].SenderID {
			return msgs[i].SenderID < msgs[j].SenderID
		}
		return msgs[i].Seq() < msgs[j].Seq()
	})
}

// FlushRound returns the next batch ready for output. Late batches come
// first. Otherwise the current round is flushed once it holds a message
// from every process, and the round advances.
func (e *Engine) FlushRound() (Batch, bool) {
	if len(e.late) > 0 {
		b := e.late[0]
		e.late = e.late[1:]
		return b, true
	}

	msgs := e.pending[e.round]
	senders := make(map[int]bool, e.n)
	for _, m := range msgs {
		senders[m.SenderID] = true
	}
	if len(senders) < e.n {
		return Batch{}, false
	}

	sortBySender(msgs)
	for _, m := range msgs {
		key := m.Key()
		e.received.Remove(key)
		e.delivered.Add(key)
		delete(e.msgs, key)
	}
	delete(e.pending, e.round)

	b := Batch{Round: e.round, Messages: msgs}
	e.round++
	return b, true
}

func (e *Engine) Round() int {
	return e.round
}

// Clock returns a copy of the live vector clock.
func (e *Engine) Clock() pb.VectorClock {
	return e.clock.Snapshot()
}

// Applied returns a copy of the per-sender count of causally ordered messages.
func (e *Engine) Applied() pb.VectorClock {
	return e.applied.Snapshot()
}

func (e *Engine) Buffered() int {
	return e.buffer.Cardinality()
}

// Received is the number of messages in causal order waiting for their round.
func (e *Engine) Received() int {
	return e.received.Cardinality()
}

func (e *Engine) Delivered() int {
	return e.delivered.Cardinality()
}

func (e *Engine) IsDelivered(msg pb.Message) bool {
	return e.delivered.Contains(msg.Key())
}
