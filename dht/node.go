// Package dht implements the node core of the BitTorrent mainline DHT (BEP 5)
package dht

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/anacrolix/torrent/bencode"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// NodeID is a 160-bit identifier for a DHT node (same space as info hashes)
type NodeID [20]byte

// GenerateNodeID creates a random 160-bit node ID
func GenerateNodeID() (NodeID, error) {
	var id NodeID
	_, err := rand.Read(id[:])
	return id, err
}

// Distance returns the XOR distance between two node IDs
// XOR distance is the metric used in Kademlia DHT
func Distance(a, b NodeID) NodeID {
	var dist NodeID
	for i := range a {
		dist[i] = a[i] ^ b[i]
	}
	return dist
}

// compareDistance returns -1 if a is closer to target than b, 1 if b is
// closer. Equal distances (duplicate IDs) fall back to bytewise ID order.
func compareDistance(a, b, target NodeID) int {
	distA := Distance(a, target)
	distB := Distance(b, target)
	if c := bytes.Compare(distA[:], distB[:]); c != 0 {
		return c
	}
	return bytes.Compare(a[:], b[:])
}

func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// Compact node entries are 20-byte ID + 4-byte IPv4 + 2-byte port,
// compact peer entries 4-byte IPv4 + 2-byte port, both in network order
const (
	CompactNodeLen = 26
	CompactPeerLen = 6
)

// Transaction records an outstanding query that a remote node owes us an
// answer to
type Transaction struct {
	Name     string
	IssuedAt mclock.AbsTime
}

// Node is the record kept for a remote DHT participant. The bootstrap
// placeholder is a Node whose real ID has not been learned yet; it never
// takes part in distance computations.
type Node struct {
	ID   NodeID
	Addr *net.UDPAddr

	boot bool

	mu         sync.Mutex
	lastAccess mclock.AbsTime
	trans      map[string]Transaction
}

// NewNode creates a record for a remote node with a known ID
func NewNode(id NodeID, addr *net.UDPAddr) *Node {
	return &Node{
		ID:         id,
		Addr:       addr,
		lastAccess: mclock.Now(),
		trans:      make(map[string]Transaction),
	}
}

// NewBootNode creates the placeholder for a seed endpoint whose ID is not
// known yet
func NewBootNode(addr *net.UDPAddr) *Node {
	n := NewNode(NodeID{}, addr)
	n.boot = true
	return n
}

// IsBoot reports whether this node is the bootstrap placeholder
func (n *Node) IsBoot() bool {
	return n.boot
}

// UpdateAccess marks the node as active now
func (n *Node) UpdateAccess() {
	n.mu.Lock()
	n.lastAccess = mclock.Now()
	n.mu.Unlock()
}

// LastAccess returns the time of the last observed activity
func (n *Node) LastAccess() mclock.AbsTime {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastAccess
}

// DeleteTrans removes an outstanding transaction; unknown IDs are a no-op
func (n *Node) DeleteTrans(t string) {
	n.mu.Lock()
	delete(n.trans, t)
	n.mu.Unlock()
}

// TakeTrans removes and returns the transaction t, if outstanding
func (n *Node) TakeTrans(t string) (Transaction, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	trans, ok := n.trans[t]
	if ok {
		delete(n.trans, t)
	}
	return trans, ok
}

// HasTrans reports whether transaction t is outstanding on this node
func (n *Node) HasTrans(t string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.trans[t]
	return ok
}

// TransCount returns the number of outstanding transactions
func (n *Node) TransCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.trans)
}

// newTrans allocates a 2-byte transaction ID unused on this node and
// records the query under it
func (n *Node) newTrans(name string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var tid string
	for {
		var b [2]byte
		rand.Read(b[:])
		tid = string(b[:])
		if _, ok := n.trans[tid]; !ok {
			break
		}
	}
	n.trans[tid] = Transaction{Name: name, IssuedAt: mclock.Now()}
	return tid
}

// Ping sends a ping query to the node
func (n *Node) Ping(c *Conn, sender NodeID) error {
	tid := n.newTrans(MethodPing)
	return n.sendQuery(c, tid, MethodPing, &Args{ID: string(sender[:])})
}

// FindNode asks the node for contacts close to target
func (n *Node) FindNode(c *Conn, target, sender NodeID) error {
	tid := n.newTrans(MethodFindNode)
	return n.sendQuery(c, tid, MethodFindNode, &Args{
		ID:     string(sender[:]),
		Target: string(target[:]),
	})
}

// GetPeers asks the node for peers of the given info hash
func (n *Node) GetPeers(c *Conn, infoHash [20]byte, sender NodeID) error {
	tid := n.newTrans(MethodGetPeers)
	return n.sendQuery(c, tid, MethodGetPeers, &Args{
		ID:       string(sender[:]),
		InfoHash: string(infoHash[:]),
	})
}

// Pong answers a query, echoing its transaction ID
func (n *Node) Pong(c *Conn, transID string, sender NodeID) error {
	return n.send(c, Msg{T: transID, Y: TypeResponse, R: &Return{ID: string(sender[:])}})
}

// FoundNode answers a find_node query with a compact node list
func (n *Node) FoundNode(c *Conn, compact []byte, transID string, sender NodeID) error {
	return n.send(c, Msg{T: transID, Y: TypeResponse, R: &Return{
		ID:    string(sender[:]),
		Nodes: string(compact),
	}})
}

func (n *Node) sendQuery(c *Conn, tid, method string, args *Args) error {
	return n.send(c, Msg{T: tid, Y: TypeQuery, Q: method, A: args})
}

// send emits one message to the node. A failed write is logged and the
// transaction book is left untouched; the maintenance loop ages the node
// out if no answer ever comes.
func (n *Node) send(c *Conn, msg Msg) error {
	data, err := bencode.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}
	if err := c.Send(data, n.Addr); err != nil {
		sendErrorMeter.Mark(1)
		log.Warn("DHT send failed", "node", n, "err", err)
		return err
	}
	packetsOutMeter.Mark(1)
	return nil
}

func (n *Node) String() string {
	if n.boot {
		return fmt.Sprintf("boot@%s", n.Addr)
	}
	return fmt.Sprintf("%x@%s", n.ID[:8], n.Addr)
}

// Compact encodes the node as a 26-byte entry
func (n *Node) Compact() ([]byte, error) {
	ip4 := n.Addr.IP.To4()
	if ip4 == nil {
		return nil, errors.Errorf("not an IPv4 address: %s", n.Addr.IP)
	}
	buf := make([]byte, CompactNodeLen)
	copy(buf[:20], n.ID[:])
	copy(buf[20:24], ip4)
	binary.BigEndian.PutUint16(buf[24:26], uint16(n.Addr.Port))
	return buf, nil
}

// EncodeNodes concatenates the compact entries of the given nodes, skipping
// any without an IPv4 address
func EncodeNodes(nodes []*Node) []byte {
	var buf []byte
	for _, n := range nodes {
		compact, err := n.Compact()
		if err != nil {
			continue
		}
		buf = append(buf, compact...)
	}
	return buf
}

// ParseCompactNode decodes a single 26-byte node entry
func ParseCompactNode(data []byte) (*Node, error) {
	if len(data) != CompactNodeLen {
		return nil, errors.Errorf("compact node entry must be %d bytes, got %d", CompactNodeLen, len(data))
	}
	var id NodeID
	copy(id[:], data[:20])
	ip := make(net.IP, 4)
	copy(ip, data[20:24])
	port := binary.BigEndian.Uint16(data[24:26])
	return NewNode(id, &net.UDPAddr{IP: ip, Port: int(port)}), nil
}

// ParseCompactNodes decodes a concatenated compact node list
func ParseCompactNodes(data []byte) ([]*Node, error) {
	if len(data)%CompactNodeLen != 0 {
		return nil, errors.Errorf("compact node list length %d is not a multiple of %d", len(data), CompactNodeLen)
	}
	nodes := make([]*Node, len(data)/CompactNodeLen)
	for i := range nodes {
		n, err := ParseCompactNode(data[i*CompactNodeLen : (i+1)*CompactNodeLen])
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

// ParseCompactPeer decodes a 6-byte peer entry
func ParseCompactPeer(data []byte) (*net.UDPAddr, error) {
	if len(data) != CompactPeerLen {
		return nil, errors.Errorf("compact peer entry must be %d bytes, got %d", CompactPeerLen, len(data))
	}
	ip := make(net.IP, 4)
	copy(ip, data[:4])
	port := binary.BigEndian.Uint16(data[4:6])
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
