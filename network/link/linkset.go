package link

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/IamArmanNikkhah/Causality-order-broadcasting/log"
	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

// LinkSet holds at most one link per peer, keyed by Link.Identity.
type LinkSet struct {
	links cmap.ConcurrentMap[string, *Link]

	retiredLock sync.Mutex
	retired     []*Link // redundant links, kept around until Close
	log         log.CbLog
}

func NewLinkSet(logger log.CbLog) *LinkSet {
	return &LinkSet{
		links: cmap.New[*Link](),
		log:   logger.With("linkset"),
	}
}

// Add stores l unless a link to the same peer is already present. When
// both processes dialed each other, the two sides keep the same
// connection and retire the other one. It returns the link that is kept
// and whether that is l.
func (ls *LinkSet) Add(l *Link) (*Link, bool) {
	var loser *Link
	kept := ls.links.Upsert(l.Identity(), l, func(exist bool, cur *Link, nl *Link) *Link {
		if !exist || cur == nl {
			return nl
		}
		if nl.preferredOver(cur) {
			loser = cur
			return nl
		}
		loser = nl
		return cur
	})
	if loser != nil {
		ls.log.Z().Debug().Str("peer", l.Identity()).Int("dialer", loser.Dialer()).Msg("retiring duplicate link")
		loser.Retire()
		ls.retiredLock.Lock()
		ls.retired = append(ls.retired, loser)
		ls.retiredLock.Unlock()
	}
	return kept, kept == l
}

func (ls *LinkSet) Get(identity string) (*Link, bool) {
	return ls.links.Get(identity)
}

// Remove drops the link for identity if it is still l.
func (ls *LinkSet) Remove(identity string, l *Link) bool {
	return ls.links.RemoveCb(identity, func(key string, cur *Link, exists bool) bool {
		return exists && cur == l
	})
}

func (ls *LinkSet) Len() int {
	return ls.links.Count()
}

// Links returns the kept links ordered by peer id.
func (ls *LinkSet) Links() []*Link {
	items := ls.links.Items()
	links := make([]*Link, 0, len(items))
	for _, l := range items {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].PeerID() < links[j].PeerID() })
	return links
}

// Broadcast sends msg on every kept link. Failures on one link do not
// stop the others.
func (ls *LinkSet) Broadcast(msg pb.Message) error {
	var errs []error
	for _, l := range ls.Links() {
		if err := l.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", l.PeerID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every link, kept or retired.
func (ls *LinkSet) Close() {
	for _, l := range ls.Links() {
		l.Close()
	}
	ls.links.Clear()
	ls.retiredLock.Lock()
	defer ls.retiredLock.Unlock()
	for _, l := range ls.retired {
		l.Close()
	}
	ls.retired = nil
}
