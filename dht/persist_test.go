package dht

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoadNodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")

	rt := NewRoutingTable()
	ids := make([]NodeID, 3)
	for i := range ids {
		ids[i][0] = byte(i + 1)
		rt.Update(NewNode(ids[i], &net.UDPAddr{IP: net.IPv4(10, 0, 0, byte(i+1)), Port: 6881 + i}))
	}
	// The placeholder must not be persisted
	rt.Update(NewBootNode(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 6889}))

	if err := rt.SaveNodes(path); err != nil {
		t.Fatalf("SaveNodes failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !strings.Contains(string(data), `"version"`) {
		t.Error("File should contain version field")
	}

	rt2 := NewRoutingTable()
	loaded, err := rt2.LoadNodes(path)
	if err != nil {
		t.Fatalf("LoadNodes failed: %v", err)
	}
	if loaded != 3 {
		t.Errorf("Expected to load 3 nodes, got %d", loaded)
	}
	if rt2.Count() != 3 {
		t.Errorf("Expected table count 3, got %d", rt2.Count())
	}
	if rt2.Boot() != nil {
		t.Error("Placeholder should never round-trip through a snapshot")
	}
	for _, id := range ids {
		n := rt2.ByID(id)
		if n == nil {
			t.Errorf("Node %x missing after load", id[:2])
			continue
		}
		if orig := rt.ByID(id); !n.Addr.IP.Equal(orig.Addr.IP) || n.Addr.Port != orig.Addr.Port {
			t.Errorf("Node %x address mismatch: %v != %v", id[:2], n.Addr, orig.Addr)
		}
	}
}

func TestLoadNodesMissingFile(t *testing.T) {
	rt := NewRoutingTable()
	loaded, err := rt.LoadNodes(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Missing file should not be an error: %v", err)
	}
	if loaded != 0 {
		t.Errorf("Expected 0 nodes, got %d", loaded)
	}
}

func TestLoadNodesSkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	content := `{
  "version": 1,
  "nodes": [
    {"id": "0102030000000000000000000000000000000000", "addr": "10.0.0.1:6881"},
    {"id": "not-hex", "addr": "10.0.0.2:6882"},
    {"id": "0102", "addr": "10.0.0.3:6883"},
    {"id": "0405060000000000000000000000000000000000", "addr": "no-port"}
  ]
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	rt := NewRoutingTable()
	loaded, err := rt.LoadNodes(path)
	if err != nil {
		t.Fatalf("LoadNodes failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("Expected 1 valid node, got %d", loaded)
	}
}

func TestLoadNodesBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	rt := NewRoutingTable()
	if _, err := rt.LoadNodes(path); err == nil {
		t.Error("Corrupt snapshot should be an error")
	}
}

func TestSaveNodesEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	rt := NewRoutingTable()
	if err := rt.SaveNodes(path); err != nil {
		t.Fatalf("SaveNodes on empty table failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Empty table should not create a snapshot file")
	}
}
