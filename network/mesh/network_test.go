package mesh

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/causal"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network/link"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addrs[i] = ln.Addr().String()
		ln.Close()
	}
	return addrs
}

func startMesh(t *testing.T, n int, opts link.Options) []*MeshNetwork {
	t.Helper()
	addrs := freeAddrs(t, n)
	nets := make([]*MeshNetwork, n)
	for i := range nets {
		nets[i] = NewMeshNetwork(i+1, addrs, opts, log.Nop())
		nets[i].DialAttempts = 50
		nets[i].DialMaxWait = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, mn := range nets {
		wg.Add(1)
		go func(i int, mn *MeshNetwork) {
			defer wg.Done()
			errs[i] = mn.Start(ctx)
		}(i, mn)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("node %d: %v", i+1, err)
		}
	}
	return nets
}

// agreed reports whether a and b keep the same connection for each other.
func agreed(a, b *MeshNetwork) bool {
	la, ok := a.Links.Get(b.Addrs[b.ID-1])
	if !ok {
		return false
	}
	lb, ok := b.Links.Get(a.Addrs[a.ID-1])
	if !ok {
		return false
	}
	return la.Dialer() == lb.Dialer() && la.DialAddr() == lb.DialAddr()
}

func TestMeshNetwork_OneLinkPerPeer(t *testing.T) {
	const n = 4
	nets := startMesh(t, n, link.Options{})
	t.Cleanup(func() {
		for _, mn := range nets {
			mn.Close()
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := nets[i], nets[j]
			for !agreed(a, b) {
				if time.Now().After(deadline) {
					t.Fatalf("nodes %d and %d disagree on their link", a.ID, b.ID)
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
	for _, mn := range nets {
		if mn.Links.Len() != n-1 {
			t.Fatalf("node %d: expected %d links, got %d", mn.ID, n-1, mn.Links.Len())
		}
		for _, l := range mn.Links.Links() {
			if want := min(mn.ID, l.PeerID()); l.Dialer() != want {
				t.Fatalf("node %d: link to %d dialed by %d, expected %d", mn.ID, l.PeerID(), l.Dialer(), want)
			}
		}
	}
}

func TestMeshNetwork_UnknownNodeRejected(t *testing.T) {
	nets := startMesh(t, 2, link.Options{})
	t.Cleanup(func() {
		for _, mn := range nets {
			mn.Close()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stranger := pb.Hello{ID: 7, Addr: "127.0.0.1:1"}
	l, err := link.Dial(ctx, stranger, nets[0].Addrs[0], link.Options{EOFLinger: 100 * time.Millisecond, Log: log.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	l.Listen(func(pb.Message) {})
	select {
	case <-l.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("the unknown node should have been disconnected")
	}
	if nets[0].Links.Len() != 1 {
		t.Fatalf("expected only the real peer, got %d links", nets[0].Links.Len())
	}
}

func TestMeshNetwork_DropsLostPeer(t *testing.T) {
	nets := startMesh(t, 2, link.Options{EOFLinger: 100 * time.Millisecond})
	defer nets[0].Close()
	nets[0].Receive(func(pb.Message) {})

	nets[1].Close()
	deadline := time.Now().Add(5 * time.Second)
	for nets[0].Links.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("the link to a peer that hung up should be dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type lineSink struct {
	lock  sync.Mutex
	lines []string
}

func (s *lineSink) Append(b causal.Batch) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lines = append(s.lines, b.Lines()...)
	return nil
}

func (s *lineSink) Close() error { return nil }

func TestMeshNetwork_CausalRoundOverTCP(t *testing.T) {
	const n = 3
	nets := startMesh(t, n, link.Options{Jitter: 5 * time.Millisecond})

	procs := make([]*causal.Process, n)
	sinks := make([]*lineSink, n)
	for i, mn := range nets {
		sinks[i] = &lineSink{}
		procs[i] = causal.NewProcess(i+1, n, mn, sinks[i], 0, log.Nop())
		procs[i].StartReceiving()
	}
	t.Cleanup(func() {
		for _, p := range procs {
			p.Close()
		}
	})

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *causal.Process) {
			defer wg.Done()
			p.Broadcast(fmt.Sprintf("M-%d", p.ID))
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	want := []string{"M-1", "M-2", "M-3"}
	for i, p := range procs {
		if err := p.WaitRound(ctx, 1); err != nil {
			t.Fatalf("process %d: %v, state %+v", p.ID, err, p.Status())
		}
		if st := p.Status(); !st.Clock.Equal(pb.VectorClock{1, 1, 1}) {
			t.Fatalf("process %d: expected clock [1, 1, 1], got %s", p.ID, st.Clock)
		}
		sinks[i].lock.Lock()
		got := append([]string(nil), sinks[i].lines...)
		sinks[i].lock.Unlock()
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("process %d: expected %v, got %v", p.ID, want, got)
		}
	}
}
