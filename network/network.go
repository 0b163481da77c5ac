package network

import (
	"context"

	pb "github.com/IamArmanNikkhah/Causality-order-broadcasting/structure"
)

// CbNet connects one process to every other process of the group.
type CbNet interface {
	// Start listens, connects to the peers and returns once every peer
	// has a link or ctx ends.
	Start(ctx context.Context) error

	// Broadcast sends msg to every connected peer.
	Broadcast(msg pb.Message)

	// Receive registers handler for every message from every peer,
	// including links established later.
	Receive(handler func(pb.Message))

	Close() error
}
