package dht

import (
	"encoding/hex"
	"net"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// DefaultNodesFile is the default filename for persisted contacts
const DefaultNodesFile = ".dht_nodes.json"

// nodeJSON is the snapshot representation of one contact
type nodeJSON struct {
	ID   string `json:"id"`   // hex-encoded node ID
	Addr string `json:"addr"` // "ip:port"
}

// nodesFile is the snapshot file structure
type nodesFile struct {
	Version int        `json:"version"`
	Nodes   []nodeJSON `json:"nodes"`
}

// SaveNodes writes a snapshot of the table's resolved nodes to a JSON file.
// The bootstrap placeholder is never persisted.
func (rt *RoutingTable) SaveNodes(path string) error {
	var nodes []*Node
	for _, n := range rt.All() {
		if !n.IsBoot() {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating snapshot directory")
	}

	file := nodesFile{
		Version: 1,
		Nodes:   make([]nodeJSON, len(nodes)),
	}
	for i, n := range nodes {
		file.Nodes[i] = nodeJSON{
			ID:   hex.EncodeToString(n.ID[:]),
			Addr: n.Addr.String(),
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing snapshot")
	}
	return nil
}

// LoadNodes merges a snapshot into the table, skipping invalid entries.
// Returns the number of nodes added.
func (rt *RoutingTable) LoadNodes(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // no snapshot yet
		}
		return 0, errors.Wrap(err, "reading snapshot")
	}

	var file nodesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, errors.Wrap(err, "parsing snapshot")
	}

	loaded := 0
	for _, e := range file.Nodes {
		n, err := parseNodeJSON(e)
		if err != nil {
			continue
		}
		rt.Update(n)
		loaded++
	}
	return loaded, nil
}

func parseNodeJSON(e nodeJSON) (*Node, error) {
	raw, err := hex.DecodeString(e.ID)
	if err != nil || len(raw) != 20 {
		return nil, errors.New("invalid node ID")
	}
	var id NodeID
	copy(id[:], raw)

	addr, err := net.ResolveUDPAddr("udp", e.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid address")
	}
	return NewNode(id, addr), nil
}

// LoadNodes merges a contact snapshot into the host's contact table
func (d *DHT) LoadNodes(path string) (int, error) {
	return d.contacts.LoadNodes(path)
}

// SaveNodes snapshots the host's contact table
func (d *DHT) SaveNodes(path string) error {
	return d.contacts.SaveNodes(path)
}
