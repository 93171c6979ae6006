package dht

import (
	"math/rand"
	"net"
	"sync"
)

// bootKey is the routing-table slot of the bootstrap placeholder. It is
// shorter than a raw 20-byte ID key, so no real node can collide with it.
const bootKey = "boot"

// RoutingTable is a flat, unbounded set of remote nodes keyed by ID.
// There is no bucket structure; the maintenance loop is the only eviction
// policy.
type RoutingTable struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewRoutingTable creates an empty routing table
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{nodes: make(map[string]*Node)}
}

func tableKey(n *Node) string {
	if n.boot {
		return bootKey
	}
	return string(n.ID[:])
}

// Update inserts or replaces the node's entry
func (rt *RoutingTable) Update(n *Node) {
	rt.mu.Lock()
	rt.nodes[tableKey(n)] = n
	rt.mu.Unlock()
}

// Remove deletes the entry for id, if present
func (rt *RoutingTable) Remove(id NodeID) {
	rt.mu.Lock()
	delete(rt.nodes, string(id[:]))
	rt.mu.Unlock()
}

// RemoveNode deletes the given node's entry, placeholder included
func (rt *RoutingTable) RemoveNode(n *Node) {
	rt.mu.Lock()
	delete(rt.nodes, tableKey(n))
	rt.mu.Unlock()
}

// ByID returns the node with the given ID, or nil
func (rt *RoutingTable) ByID(id NodeID) *Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.nodes[string(id[:])]
}

// Boot returns the bootstrap placeholder, or nil once it has been promoted
func (rt *RoutingTable) Boot() *Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.nodes[bootKey]
}

// ByTrans returns the node holding the outstanding transaction t, or nil.
// This is how responses are correlated when the sender's ID is not known
// yet, the classic case being a reply from the bootstrap placeholder.
func (rt *RoutingTable) ByTrans(t string) *Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, n := range rt.nodes {
		if n.HasTrans(t) {
			return n
		}
	}
	return nil
}

// ClosestNodes returns up to count resolved nodes sorted by ascending XOR
// distance to target. The placeholder is never included.
func (rt *RoutingTable) ClosestNodes(target NodeID, count int) []*Node {
	rt.mu.RLock()
	all := make([]*Node, 0, len(rt.nodes))
	for k, n := range rt.nodes {
		if k == bootKey {
			continue
		}
		all = append(all, n)
	}
	rt.mu.RUnlock()

	sortByDistance(all, target)
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// sortByDistance sorts nodes by XOR distance to target (in-place)
func sortByDistance(nodes []*Node, target NodeID) {
	// Simple insertion sort (good enough for small lists)
	for i := 1; i < len(nodes); i++ {
		j := i
		for j > 0 && compareDistance(nodes[j].ID, nodes[j-1].ID, target) < 0 {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
			j--
		}
	}
}

// Sample returns up to k distinct entries chosen uniformly at random,
// placeholder included
func (rt *RoutingTable) Sample(k int) []*Node {
	rt.mu.RLock()
	all := make([]*Node, 0, len(rt.nodes))
	for _, n := range rt.nodes {
		all = append(all, n)
	}
	rt.mu.RUnlock()

	rand.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Count returns the number of nodes with a learned ID
func (rt *RoutingTable) Count() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	count := len(rt.nodes)
	if _, ok := rt.nodes[bootKey]; ok {
		count--
	}
	return count
}

// All returns every entry, placeholder included
func (rt *RoutingTable) All() []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	all := make([]*Node, 0, len(rt.nodes))
	for _, n := range rt.nodes {
		all = append(all, n)
	}
	return all
}

// PromoteBoot replaces the bootstrap placeholder with a node under its real
// ID, carrying over the placeholder's outstanding transactions. The swap is
// a single critical section, so no transaction is ever held by two entries.
// Returns the promoted node, or nil if no placeholder is present.
func (rt *RoutingTable) PromoteBoot(id NodeID, addr *net.UDPAddr) *Node {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	old, ok := rt.nodes[bootKey]
	if !ok {
		return nil
	}
	n := NewNode(id, addr)
	old.mu.Lock()
	n.trans = old.trans
	old.trans = make(map[string]Transaction)
	old.mu.Unlock()
	rt.nodes[string(id[:])] = n
	delete(rt.nodes, bootKey)
	return n
}
