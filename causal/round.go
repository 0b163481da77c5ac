package causal

import (
	"sort"
)

type deferredSend struct {
	Round   int
	Seq     uint64 // insertion order, breaks ties between equal rounds
	Content string
}

// RoundCoordinator lets a process send at most one broadcast per round.
// Requests beyond that wait in deferred, sorted by round then arrival.
type RoundCoordinator struct {
	sentThisRound bool
	deferred      []deferredSend
	seq           uint64
}

func NewRoundCoordinator() *RoundCoordinator {
	return &RoundCoordinator{deferred: make([]deferredSend, 0)}
}

// Admit reports whether content may be sent now, in round. If this round's
// send already happened, content is queued for round+1 instead.
func (rc *RoundCoordinator) Admit(round int, content string) bool {
	if !rc.sentThisRound {
		rc.sentThisRound = true
		return true
	}
	rc.push(round+1, content)
	return false
}

func (rc *RoundCoordinator) push(round int, content string) {
	rc.seq++
	rc.deferred = append(rc.deferred, deferredSend{Round: round, Seq: rc.seq, Content: content})
	sort.Slice(rc.deferred, func(i, j int) bool {
		if rc.deferred[i].Round != rc.deferred[j].Round {
			return rc.deferred[i].Round < rc.deferred[j].Round
		}
		return rc.deferred[i].Seq < rc.deferred[j].Seq
	})
}

// Advance opens the gate for round and releases the oldest deferred
// content scheduled for it, if any. Other entries that were due by round
// move on to round+1 and keep their order.
func (rc *RoundCoordinator) Advance(round int) (string, bool) {
	rc.sentThisRound = false
	if len(rc.deferred) == 0 || rc.deferred[0].Round > round {
		return "", false
	}
	head := rc.deferred[0]
	rc.deferred = rc.deferred[1:]
	for i := range rc.deferred {
		if rc.deferred[i].Round <= round {
			rc.deferred[i].Round = round + 1
		}
	}
	return head.Content, true
}

func (rc *RoundCoordinator) SentThisRound() bool {
	return rc.sentThisRound
}

// Pending returns the queued contents in the order they will be sent.
func (rc *RoundCoordinator) Pending() []string {
	pending := make([]string, len(rc.deferred))
	for i, d := range rc.deferred {
		pending[i] = d.Content
	}
	return pending
}
