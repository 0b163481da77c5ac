package causal

import (
	"context"
	"sync"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

// Sink receives every flushed batch.
type Sink interface {
	Append(b Batch) error
	Close() error
}

// Status is a consistent view of a process's delivery state.
type Status struct {
	Round     int
	Clock     pb.VectorClock
	Buffered  int
	Received  int
	Delivered int
	Deferred  int
}

// Process ties the engine, the round gate, the network and the sink
// together. Links feed an inbox drained by a single worker; the worker and
// Broadcast share one lock, so clock merges, delivery decisions and round
// changes never run concurrently.
type Process struct {
	ID int
	N  int

	lock    sync.Mutex
	engine  *Engine
	rounds  *RoundCoordinator
	net     network.CbNet
	sink    Sink
	roundCH chan struct{} // closed and replaced whenever a batch is flushed

	inbox     chan pb.Message
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
	log       log.CbLog
}

func NewProcess(id int, n int, net network.CbNet, sink Sink, inboxSize int, logger log.CbLog) *Process {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Process{
		ID:      id,
		N:       n,
		engine:  NewEngine(id, n, logger),
		rounds:  NewRoundCoordinator(),
		net:     net,
		sink:    sink,
		roundCH: make(chan struct{}),
		inbox:   make(chan pb.Message, inboxSize),
		stop:    make(chan struct{}),
		log:     logger.With("process").WithInt("id", id),
	}
}

// StartReceiving registers the inbound handler on every link and starts
// the delivery worker.
func (p *Process) StartReceiving() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.handleInbox()
		p.net.Receive(func(msg pb.Message) {
			select {
			case p.inbox <- msg:
			case <-p.stop:
			}
		})
	})
}

func (p *Process) handleInbox() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.inbox:
			p.lock.Lock()
			p.engine.OnReceive(msg)
			p.settle()
			p.lock.Unlock()
		case <-p.stop:
			return
		}
	}
}

// Broadcast sends content in the current round, or queues it for a later
// round if this round's send already happened. It reports whether the
// message went out now.
func (p *Process) Broadcast(content string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	sent := p.broadcastLocked(content)
	p.settle()
	return sent
}

func (p *Process) broadcastLocked(content string) bool {
	round := p.engine.Round()
	if !p.rounds.Admit(round, content) {
		p.log.Z().Debug().Int("round", round).Str("content", content).Msg("deferred to a later round")
		return false
	}
	msg := p.engine.Stamp(content)
	p.engine.AcceptLocal(msg)
	p.log.Z().Debug().Str("msg", msg.String()).Msg("broadcast")
	p.net.Broadcast(msg)
	return true
}

// settle flushes every complete round to the sink and sends whatever the
// round gate releases for the new round.
func (p *Process) settle() {
	for {
		b, ok := p.engine.FlushRound()
		if !ok {
			return
		}
		if err := p.sink.Append(b); err != nil {
			p.log.Z().Error().Err(err).Int("round", b.Round).Msg("output sink failed")
		}
		if b.Late {
			continue
		}
		p.log.Z().Info().Int("round", b.Round).Int("messages", len(b.Messages)).Str("clock", p.engine.clock.String()).Msg("round finished")
		close(p.roundCH)
		p.roundCH = make(chan struct{})

		if content, ok := p.rounds.Advance(p.engine.Round()); ok {
			p.broadcastLocked(content)
		}
	}
}

// WaitRound blocks until at least round rounds have been flushed.
func (p *Process) WaitRound(ctx context.Context, round int) error {
	for {
		p.lock.Lock()
		cur, ch := p.engine.Round(), p.roundCH
		p.lock.Unlock()
		if cur >= round {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return context.Canceled
		}
	}
}

func (p *Process) Status() Status {
	p.lock.Lock()
	defer p.lock.Unlock()
	return Status{
		Round:     p.engine.Round(),
		Clock:     p.engine.Clock(),
		Buffered:  p.engine.Buffered(),
		Received:  p.engine.Received(),
		Delivered: p.engine.Delivered(),
		Deferred:  len(p.rounds.deferred),
	}
}

// Close stops the worker and the network. The sink is left to its owner.
func (p *Process) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	return p.net.Close()
}
