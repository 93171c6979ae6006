package dht

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// MaxPacketSize is the largest datagram we expect on the wire
const MaxPacketSize = 1500

// closeNodeCount is how many contacts a find_node reply carries
const closeNodeCount = 8

// ErrBootstrapDead is returned by Bootstrap when the seed keeps ignoring us
var ErrBootstrapDead = errors.New("dht: bootstrap node is not responding")

// ErrStopped is returned by Bootstrap when the host is stopped mid-bootstrap
var ErrStopped = errors.New("dht: stopped")

// Conn is the shared send half of the UDP socket. Writes from the RPC
// primitives and the reply emitters are serialised behind its lock; the
// listener reads without taking it.
type Conn struct {
	mu   sync.Mutex
	sock *net.UDPConn
}

// NewConn wraps the send half of sock
func NewConn(sock *net.UDPConn) *Conn {
	return &Conn{sock: sock}
}

// Send writes one datagram while holding the send lock
func (c *Conn) Send(data []byte, to *net.UDPAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.sock.WriteToUDP(data, to)
	return err
}

// DHT is a participating node of the overlay. It owns the socket, the local
// identity, the contact table used for traversal and the peer-discovery
// table fed by get_peers responses.
type DHT struct {
	ID  NodeID
	cfg Config

	conn *net.UDPConn
	send *Conn

	contacts *RoutingTable
	peers    *RoutingTable

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	logger log.Logger
}

// New creates a DHT host with a fresh random identity
func New(cfg Config) (*DHT, error) {
	id, err := GenerateNodeID()
	if err != nil {
		return nil, errors.Wrap(err, "generating node ID")
	}
	return &DHT{
		ID:       id,
		cfg:      cfg.withDefaults(),
		contacts: NewRoutingTable(),
		peers:    NewRoutingTable(),
		shutdown: make(chan struct{}),
		logger:   log.New("self", fmt.Sprintf("%x", id[:4])),
	}, nil
}

// Start binds the UDP socket and launches the listener
func (d *DHT) Start(bind string) error {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", bind)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrap(err, "binding UDP socket")
	}
	d.conn = conn
	d.send = NewConn(conn)
	d.logger.Info("DHT listening", "addr", conn.LocalAddr())

	d.wg.Add(1)
	go d.readLoop()
	return nil
}

// Addr returns the bound UDP address
func (d *DHT) Addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Stop shuts the loops and the listener down and waits for them to exit
func (d *DHT) Stop() {
	d.running.Store(false)
	close(d.shutdown)
	if d.conn != nil {
		d.conn.Close()
	}
	d.wg.Wait()
	d.logger.Info("DHT stopped")
}

// readLoop receives datagrams until shutdown. Dispatch is serialised; a
// slow handler delays the next read but keeps table updates ordered.
func (d *DHT) readLoop() {
	defer d.wg.Done()
	buf := make([]byte, MaxPacketSize)
	for {
		select {
		case <-d.shutdown:
			return
		default:
		}

		d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			select {
			case <-d.shutdown:
				return
			default:
				d.logger.Debug("DHT read error", "err", err)
				continue
			}
		}

		packetsInMeter.Mark(1)
		data := make([]byte, n)
		copy(data, buf[:n])
		d.handlePacket(data, addr)
	}
}

func (d *DHT) handlePacket(data []byte, from *net.UDPAddr) {
	msg, err := DecodeMsg(data)
	if err != nil {
		malformedMeter.Mark(1)
		d.logger.Debug("dropping malformed packet", "from", from, "err", err)
		return
	}

	switch msg.Y {
	case TypeQuery:
		d.handleQuery(msg, from)
	case TypeResponse:
		d.handleResponse(msg, from)
	case TypeError:
		if msg.E != nil {
			d.logger.Debug("error reply", "from", from, "code", msg.E.Code, "msg", msg.E.Msg)
		} else {
			d.logger.Debug("error reply without payload", "from", from)
		}
	default:
		d.logger.Debug("unknown message type", "from", from, "y", msg.Y)
	}
}

// handleQuery answers a query from a remote node, learning the sender on
// the way
func (d *DHT) handleQuery(msg *Msg, from *net.UDPAddr) {
	if msg.A == nil {
		malformedMeter.Mark(1)
		d.logger.Debug("query without arguments", "from", from, "q", msg.Q)
		return
	}
	id, ok := idFromString(msg.A.ID)
	if !ok {
		malformedMeter.Mark(1)
		d.logger.Debug("query with invalid sender ID", "from", from, "q", msg.Q)
		return
	}

	node := d.contacts.ByID(id)
	if node == nil {
		node = NewNode(id, from)
		d.contacts.Update(node)
		d.logger.Debug("learned new node", "node", node)
	}
	node.UpdateAccess()

	switch msg.Q {
	case MethodPing:
		node.Pong(d.send, msg.T, d.ID)
	case MethodFindNode:
		target, ok := idFromString(msg.A.Target)
		if !ok {
			malformedMeter.Mark(1)
			d.logger.Debug("find_node with invalid target", "from", from)
			return
		}
		compact := EncodeNodes(d.contacts.ClosestNodes(target, closeNodeCount))
		node.FoundNode(d.send, compact, msg.T, d.ID)
	case MethodGetPeers, MethodAnnounce:
		// acknowledged only, no peer store is kept
		node.Pong(d.send, msg.T, d.ID)
	default:
		d.logger.Debug("unknown query", "from", from, "q", msg.Q)
	}
}

// handleResponse correlates a response with the node that owes it to us,
// first by the responder's ID and then by scanning for the transaction
func (d *DHT) handleResponse(msg *Msg, from *net.UDPAddr) {
	if msg.R == nil {
		malformedMeter.Mark(1)
		d.logger.Debug("response without payload", "from", from)
		return
	}
	id, ok := idFromString(msg.R.ID)
	if !ok {
		malformedMeter.Mark(1)
		d.logger.Debug("response with invalid ID", "from", from)
		return
	}

	node := d.contacts.ByID(id)
	if node == nil {
		// The responder may still be the bootstrap placeholder, or may
		// have been evicted during the round-trip.
		node = d.contacts.ByTrans(msg.T)
		if node == nil {
			orphanMeter.Mark(1)
			d.logger.Debug("orphaned response", "from", from, "t", fmt.Sprintf("%x", msg.T))
			return
		}
	}

	trans, ok := node.TakeTrans(msg.T)
	if !ok {
		unknownTransMeter.Mark(1)
		d.logger.Debug("response for unknown transaction", "node", node, "t", fmt.Sprintf("%x", msg.T))
		return
	}

	if msg.IP != "" {
		if ext, err := ParseCompactPeer([]byte(msg.IP)); err == nil {
			d.logger.Debug("remote reports our external address", "addr", ext)
		}
	}

	switch trans.Name {
	case MethodPing:
		node.UpdateAccess()
	case MethodFindNode:
		node.UpdateAccess()
		d.addCompactNodes(d.contacts, msg.R.Nodes, from)
	case MethodGetPeers:
		node.UpdateAccess()
		d.addCompactNodes(d.peers, msg.R.Nodes, from)
		for _, v := range msg.R.Values {
			peer, err := ParseCompactPeer([]byte(v))
			if err != nil {
				d.logger.Debug("malformed peer entry", "from", from, "err", err)
				continue
			}
			d.logger.Info("discovered peer", "addr", peer, "via", node)
		}
	}

	if node.IsBoot() {
		if promoted := d.contacts.PromoteBoot(id, from); promoted != nil {
			d.logger.Debug("bootstrap node resolved", "node", promoted)
		}
	}
}

func (d *DHT) addCompactNodes(rt *RoutingTable, compact string, from *net.UDPAddr) {
	if compact == "" {
		return
	}
	nodes, err := ParseCompactNodes([]byte(compact))
	if err != nil {
		malformedMeter.Mark(1)
		d.logger.Debug("malformed compact node list", "from", from, "err", err)
		return
	}
	for _, n := range nodes {
		rt.Update(n)
	}
}

// Bootstrap seeds the contact table from one known endpoint. It blocks
// until the table holds more than SampleCount contacts, then marks the host
// running and launches the discovery and maintenance loops. A seed that
// accumulates more than MaxBootstrapErrors unanswered queries is declared
// dead.
func (d *DHT) Bootstrap(seed *net.UDPAddr) error {
	d.logger.Info("bootstrapping", "seed", seed)
	boot := NewBootNode(seed)
	d.contacts.Update(boot)

	for d.contacts.Count() <= d.cfg.SampleCount {
		if boot.TransCount() > d.cfg.MaxBootstrapErrors {
			d.logger.Error("bootstrap node is not answering, giving up", "seed", seed)
			return ErrBootstrapDead
		}
		boot.FindNode(d.send, d.ID, d.ID)
		select {
		case <-d.shutdown:
			return ErrStopped
		case <-time.After(d.cfg.BootstrapInterval):
		}
	}

	d.running.Store(true)
	d.wg.Add(2)
	go d.iterativeFindNodes()
	go d.gc()
	d.logger.Info("bootstrap complete", "contacts", d.contacts.Count())
	return nil
}

// iterativeFindNodes keeps the table growing by asking random samples of
// known nodes for random targets, spreading learning across the key space
// instead of clustering around our own ID
func (d *DHT) iterativeFindNodes() {
	defer d.wg.Done()
	for d.running.Load() {
		for _, n := range d.contacts.Sample(d.cfg.SampleCount) {
			target, err := GenerateNodeID()
			if err != nil {
				continue
			}
			n.FindNode(d.send, target, d.ID)
		}
		d.logger.Debug("discovery pass", "contacts", d.contacts.Count())

		select {
		case <-d.shutdown:
			return
		case <-time.After(d.cfg.FindInterval):
		}
	}
}

// gc evicts nodes that stopped answering. A stale node with few pending
// transactions gets pinged first; either the response revives it or the
// pending count grows past GCMaxTrans and a later pass removes it.
func (d *DHT) gc() {
	defer d.wg.Done()

	for d.contacts.Count() <= d.cfg.SampleCount {
		select {
		case <-d.shutdown:
			return
		case <-time.After(d.cfg.GCInterval):
		}
	}

	for d.running.Load() {
		for _, n := range d.contacts.Sample(d.cfg.SampleCount) {
			idle := time.Duration(mclock.Now() - n.LastAccess())
			if idle <= d.cfg.GCMaxAge {
				continue
			}
			if n.TransCount() > d.cfg.GCMaxTrans {
				d.logger.Debug("evicting stale node", "node", n, "idle", idle, "pending", n.TransCount())
				d.contacts.RemoveNode(n)
				evictedMeter.Mark(1)
				continue
			}
			n.Ping(d.send, d.ID)
		}

		select {
		case <-d.shutdown:
			return
		case <-time.After(d.cfg.GCInterval):
		}
	}
}
