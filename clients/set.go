package clients

import (
	"sort"
	"sync"

	"github.com/vitwit/chainpay/types"
)

// Source resolves the chain client of a network.
type Source interface {
	Client(id types.NetworkID) (ChainClient, error)
}

var _ Source = (*Set)(nil)

// Set holds one ChainClient per network.
type Set struct {
	mu      sync.RWMutex
	clients map[types.NetworkID]ChainClient
}

func NewSet() *Set {
	return &Set{clients: make(map[types.NetworkID]ChainClient)}
}

// DialAll dials a client for every network. Clients already dialed are
// closed when a later network fails.
func DialAll(networks []types.NetworkConfig, opts ...Option) (*Set, error) {
	s := NewSet()
	for _, cfg := range networks {
		c, err := Dial(cfg, opts...)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Add(c)
	}
	return s, nil
}

// Add registers c under its network, replacing and closing any previous
// client for that network.
func (s *Set) Add(c ChainClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.clients[c.Network()]; ok && old != c {
		old.Close()
	}
	s.clients[c.Network()] = c
}

// Client returns the client for id.
func (s *Set) Client(id types.NetworkID) (ChainClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, types.UnknownNetwork(id)
	}
	return c, nil
}

// Networks lists the networks with a client, sorted.
func (s *Set) Networks() []types.NetworkID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.NetworkID, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
}
