package link

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

var (
	ErrClosed  = errors.New("link: closed")
	ErrRetired = errors.New("link: retired")
)

type Options struct {
	Jitter       time.Duration // max random delay before each write, 0 disables
	SendQueue    int           // outbound queue length
	MaxFrameSize int           // frames larger than this end the link
	HelloTimeout time.Duration
	EOFLinger    time.Duration // how long a link stays writable after the peer's EOF
	Log          log.CbLog
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 16 << 20
	}
	if o.HelloTimeout <= 0 {
		o.HelloTimeout = 5 * time.Second
	}
	if o.EOFLinger <= 0 {
		o.EOFLinger = 5 * time.Second
	}
	return o
}

// Link is a reliable, ordered, bidirectional channel to one peer.
// Outbound messages go through a queue drained by a single writer
// goroutine, so frames from concurrent senders never interleave.
type Link struct {
	opts     Options
	conn     net.Conn
	rd       *bufio.Reader
	self     pb.Hello
	peer     pb.Hello
	identity string
	dialer   int
	dialAddr string // address the dialing side connected from

	sendCH    chan pb.Message
	sendLock  sync.RWMutex // held for reading while enqueuing, for writing by Retire
	isRetired bool
	retired   chan struct{}

	writeLock sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	listenOnce sync.Once
	done       chan struct{}
	log        log.CbLog
}

// Dial connects to addr and exchanges hello frames.
func Dial(ctx context.Context, self pb.Hello, addr string, opts Options) (*Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	l, err := newLink(conn, self, opts, true)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	return l, nil
}

// Accept wraps a connection accepted by a listener.
func Accept(conn net.Conn, self pb.Hello, opts Options) (*Link, error) {
	l, err := newLink(conn, self, opts, false)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", conn.RemoteAddr(), err)
	}
	return l, nil
}

func newLink(conn net.Conn, self pb.Hello, opts Options, dialed bool) (*Link, error) {
	opts = opts.withDefaults()
	l := &Link{
		opts:    opts,
		conn:    conn,
		rd:      bufio.NewReader(conn),
		self:    self,
		sendCH:  make(chan pb.Message, opts.SendQueue),
		retired: make(chan struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := l.handshake(); err != nil {
		return nil, err
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", l.peer.Addr)
	if err != nil {
		return nil, fmt.Errorf("peer %d announced bad address %q: %w", l.peer.ID, l.peer.Addr, err)
	}
	l.identity = tcpAddr.String()
	if dialed {
		l.dialer = self.ID
		l.dialAddr = conn.LocalAddr().String()
	} else {
		l.dialer = l.peer.ID
		l.dialAddr = conn.RemoteAddr().String()
	}
	l.log = opts.Log.With("link").WithInt("peer", l.peer.ID)

	go l.writeLoop()
	return l, nil
}

func (l *Link) handshake() error {
	if err := l.conn.SetDeadline(time.Now().Add(l.opts.HelloTimeout)); err != nil {
		return err
	}
	if err := l.writeFrame(pb.Frame{Kind: pb.KindHello, Hello: l.self}); err != nil {
		return err
	}
	body, err := readFrame(l.rd, l.opts.MaxFrameSize)
	if err != nil {
		return err
	}
	f, err := pb.UnmarshalFrame(body)
	if err != nil {
		return err
	}
	if f.Kind != pb.KindHello {
		return fmt.Errorf("%w: expected hello, got kind %d", pb.ErrDecode, f.Kind)
	}
	l.peer = f.Hello
	return l.conn.SetDeadline(time.Time{})
}

// Identity is the peer's resolved listen address. Both ends of a
// connection compute the same identity for each other's process.
func (l *Link) Identity() string {
	return l.identity
}

func (l *Link) PeerID() int {
	return l.peer.ID
}

// Dialer is the id of the process that opened the connection.
func (l *Link) Dialer() int {
	return l.dialer
}

// preferredOver reports whether l should be kept instead of other when
// both connect the same pair of processes. The connection dialed by the
// lower process id wins, then the one dialed from the lower address.
// Both ends see the same dialer and dial address, so they agree.
func (l *Link) preferredOver(other *Link) bool {
	if l.IsClosed() != other.IsClosed() {
		return other.IsClosed()
	}
	if l.dialer != other.dialer {
		return l.dialer < other.dialer
	}
	return l.dialAddr < other.dialAddr
}

func (l *Link) IsClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the read loop has exited. After the peer's EOF that
// happens once the link is retired or closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Closed is closed once the connection has been torn down.
func (l *Link) Closed() <-chan struct{} {
	return l.closed
}

// DialAddr is the address the dialing side connected from.
func (l *Link) DialAddr() string {
	return l.dialAddr
}

func (l *Link) Retired() bool {
	l.sendLock.RLock()
	defer l.sendLock.RUnlock()
	return l.isRetired
}

// Send queues msg for writing. It blocks while the queue is full.
func (l *Link) Send(msg pb.Message) error {
	l.sendLock.RLock()
	defer l.sendLock.RUnlock()
	if l.isRetired {
		return ErrRetired
	}
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	select {
	case l.sendCH <- msg:
		return nil
	case <-l.closed:
		return ErrClosed
	}
}

// Listen starts the read loop. Every decoded message is passed to
// onMessage from the loop's goroutine. Calling Listen again is a no-op.
func (l *Link) Listen(onMessage func(pb.Message)) {
	l.listenOnce.Do(func() {
		go l.readLoop(onMessage)
	})
}

func (l *Link) readLoop(onMessage func(pb.Message)) {
	defer close(l.done)
	for {
		body, err := readFrame(l.rd, l.opts.MaxFrameSize)
		if err != nil {
			switch {
			case l.IsClosed():
			case errors.Is(err, io.EOF):
				l.log.Debug("peer finished sending")
				l.awaitRetire()
				return
			default:
				l.log.Z().Warn().Err(err).Msg("read failed, closing link")
			}
			l.Close()
			return
		}
		f, err := pb.UnmarshalFrame(body)
		if err != nil {
			l.log.Z().Warn().Err(err).Int("size", len(body)).Msg("dropping undecodable frame")
			continue
		}
		if f.Kind != pb.KindMessage {
			l.log.Z().Warn().Int("kind", int(f.Kind)).Msg("dropping unexpected frame")
			continue
		}
		onMessage(f.Msg)
	}
}

// awaitRetire runs once the peer has shut down its write side. A retired
// link is closed by its writer after the queue is flushed. A link that is
// not retired within EOFLinger is treated as lost.
func (l *Link) awaitRetire() {
	t := time.NewTimer(l.opts.EOFLinger)
	defer t.Stop()
	select {
	case <-l.retired:
	case <-l.closed:
	case <-t.C:
		l.log.Warn("peer stopped sending and the link was not retired, closing it")
		l.Close()
	}
}

func (l *Link) writeLoop() {
	for {
		select {
		case msg := <-l.sendCH:
			if !l.write(msg) {
				return
			}
		case <-l.retired:
			for {
				select {
				case msg := <-l.sendCH:
					if !l.write(msg) {
						return
					}
				default:
					l.closeWrite()
					select {
					case <-l.done:
					case <-l.closed:
					}
					l.Close()
					return
				}
			}
		case <-l.closed:
			return
		}
	}
}

func (l *Link) write(msg pb.Message) bool {
	if l.opts.Jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(l.opts.Jitter) + 1)))
	}
	if err := l.writeFrame(pb.Frame{Kind: pb.KindMessage, Msg: msg}); err != nil {
		select {
		case <-l.closed:
		default:
			l.log.Z().Warn().Err(err).Msg("write failed, closing link")
		}
		l.Close()
		return false
	}
	return true
}

func (l *Link) writeFrame(f pb.Frame) error {
	body := f.Marshal()
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	_, err := l.conn.Write(buf)
	return err
}

func readFrame(rd io.Reader, max int) ([]byte, error) {
	var size uint32
	if err := binary.Read(rd, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if int(size) > max {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, max)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Retire stops sending on the link. Queued messages are still written,
// then the write side is shut down. The read loop keeps running until the
// peer shuts down its side as well, and the connection is closed then.
func (l *Link) Retire() {
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	if l.isRetired {
		return
	}
	l.isRetired = true
	close(l.retired)
}

func (l *Link) closeWrite() {
	if cw, ok := l.conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	l.Close()
}

// Close tears the connection down. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}
