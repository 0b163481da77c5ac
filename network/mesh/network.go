package mesh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network/backoff"
	"github.com/IamArmanNikkhah/Causality-order-broadcasting/network/link"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

// MeshNetwork is a fully connected TCP mesh. Every process listens on its
// own address and dials every peer; duplicate connections that result
// from both sides dialing are collapsed by the LinkSet.
type MeshNetwork struct {
	ID           int
	N            int
	Addrs        []string // listen address of every process, Addrs[id-1]
	LinkOpts     link.Options
	DialAttempts int
	DialMaxWait  time.Duration

	Links *link.LinkSet

	listener net.Listener
	peerIDs  map[string]int // resolved listen address -> process id

	lock    sync.Mutex
	handler func(pb.Message)
	all     []*link.Link // every link established, retired ones included
	changed chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    log.CbLog
}

func NewMeshNetwork(id int, addrs []string, opts link.Options, logger log.CbLog) *MeshNetwork {
	opts.Log = logger
	return &MeshNetwork{
		ID:       id,
		N:        len(addrs),
		Addrs:    addrs,
		LinkOpts: opts,
		Links:    link.NewLinkSet(logger),
		changed:  make(chan struct{}, 1),
		log:      logger.With("mesh").WithInt("id", id),
	}
}

func (mn *MeshNetwork) self() pb.Hello {
	return pb.Hello{ID: mn.ID, Addr: mn.Addrs[mn.ID-1]}
}

func (mn *MeshNetwork) Start(ctx context.Context) error {
	if mn.ID < 1 || mn.ID > mn.N {
		return fmt.Errorf("mesh: id %d outside 1..%d", mn.ID, mn.N)
	}
	mn.peerIDs = make(map[string]int, mn.N)
	for i, addr := range mn.Addrs {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return fmt.Errorf("mesh: resolve %s: %w", addr, err)
		}
		mn.peerIDs[tcpAddr.String()] = i + 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	mn.cancel = cancel

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", mn.Addrs[mn.ID-1])
	if err != nil {
		cancel()
		return fmt.Errorf("mesh: listen %s: %w", mn.Addrs[mn.ID-1], err)
	}
	mn.listener = ln
	mn.log.Z().Info().Str("addr", ln.Addr().String()).Msg("listening")

	mn.wg.Add(1)
	go mn.acceptLoop()

	for id := 1; id <= mn.N; id++ {
		if id == mn.ID {
			continue
		}
		mn.wg.Add(1)
		go mn.dialPeer(runCtx, id)
	}

	return mn.waitConnected(ctx)
}

func (mn *MeshNetwork) waitConnected(ctx context.Context) error {
	for {
		if mn.Links.Len() >= mn.N-1 {
			mn.log.Z().Info().Int("links", mn.Links.Len()).Msg("all peers connected")
			return nil
		}
		select {
		case <-mn.changed:
		case <-ctx.Done():
			return fmt.Errorf("mesh: missing peers %v: %w", mn.missing(), ctx.Err())
		}
	}
}

func (mn *MeshNetwork) missing() []int {
	var ids []int
	for id := 1; id <= mn.N; id++ {
		if id == mn.ID {
			continue
		}
		tcpAddr, err := net.ResolveTCPAddr("tcp", mn.Addrs[id-1])
		if err != nil {
			ids = append(ids, id)
			continue
		}
		if _, ok := mn.Links.Get(tcpAddr.String()); !ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (mn *MeshNetwork) acceptLoop() {
	defer mn.wg.Done()
	for {
		conn, err := mn.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			mn.log.Z().Warn().Err(err).Msg("accept failed")
			continue
		}
		mn.wg.Add(1)
		go func() {
			defer mn.wg.Done()
			l, err := link.Accept(conn, mn.self(), mn.LinkOpts)
			if err != nil {
				mn.log.Z().Warn().Err(err).Msg("incoming handshake failed")
				return
			}
			mn.addLink(l)
		}()
	}
}

func (mn *MeshNetwork) dialPeer(ctx context.Context, id int) {
	defer mn.wg.Done()
	addr := mn.Addrs[id-1]
	retry := backoff.Config{
		MinWait:     50 * time.Millisecond,
		MaxWait:     mn.DialMaxWait,
		MaxAttempts: mn.DialAttempts,
		Report: func(attempt int, err error) error {
			mn.log.Z().Debug().Err(err).Int("peer", id).Int("attempt", attempt).Msg("dial failed")
			return nil
		},
	}
	err := retry.Retry(ctx, func() error {
		l, err := link.Dial(ctx, mn.self(), addr, mn.LinkOpts)
		if err != nil {
			return err
		}
		mn.addLink(l)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		mn.log.Z().Error().Err(err).Int("peer", id).Str("addr", addr).Msg("giving up on dialing peer")
	}
}

func (mn *MeshNetwork) addLink(l *link.Link) {
	if id, ok := mn.peerIDs[l.Identity()]; !ok || id != l.PeerID() || id == mn.ID {
		mn.log.Z().Warn().Int("peer", l.PeerID()).Str("addr", l.Identity()).Msg("unknown node connected")
		l.Close()
		return
	}

	mn.lock.Lock()
	mn.all = append(mn.all, l)
	handler := mn.handler
	mn.lock.Unlock()

	if _, added := mn.Links.Add(l); added {
		mn.log.Z().Debug().Int("peer", l.PeerID()).Int("dialer", l.Dialer()).Msg("link added")
	}
	if handler != nil {
		mn.listen(l, handler)
	}

	select {
	case mn.changed <- struct{}{}:
	default:
	}
}

func (mn *MeshNetwork) listen(l *link.Link, handler func(pb.Message)) {
	l.Listen(handler)
	mn.wg.Add(1)
	go func() {
		defer mn.wg.Done()
		<-l.Closed()
		if mn.Links.Remove(l.Identity(), l) {
			mn.log.Z().Warn().Int("peer", l.PeerID()).Msg("link to peer lost")
		}
	}()
}

func (mn *MeshNetwork) Receive(handler func(pb.Message)) {
	mn.lock.Lock()
	mn.handler = handler
	all := append([]*link.Link(nil), mn.all...)
	mn.lock.Unlock()
	for _, l := range all {
		mn.listen(l, handler)
	}
}

func (mn *MeshNetwork) Broadcast(msg pb.Message) {
	if err := mn.Links.Broadcast(msg); err != nil {
		mn.log.Z().Warn().Err(err).Msg("broadcast incomplete")
	}
}

func (mn *MeshNetwork) Close() error {
	if mn.cancel != nil {
		mn.cancel()
	}
	var err error
	if mn.listener != nil {
		err = mn.listener.Close()
	}
	mn.Links.Close()
	mn.lock.Lock()
	for _, l := range mn.all {
		l.Close()
	}
	mn.lock.Unlock()
	mn.wg.Wait()
	return err
}
