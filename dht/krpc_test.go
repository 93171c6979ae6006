package dht

import (
	"testing"

	"github.com/anacrolix/torrent/bencode"
)

func TestDecodePingQuery(t *testing.T) {
	raw := "d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:t2:aa1:y1:qe"

	msg, err := DecodeMsg([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}

	if msg.T != "aa" {
		t.Errorf("Expected transaction 'aa', got %q", msg.T)
	}
	if msg.Y != TypeQuery {
		t.Errorf("Expected type 'q', got %q", msg.Y)
	}
	if msg.Q != MethodPing {
		t.Errorf("Expected query 'ping', got %q", msg.Q)
	}
	if msg.A == nil || msg.A.ID != "abcdefghij0123456789" {
		t.Error("Sender ID mismatch")
	}
}

func TestQueryRoundTrip(t *testing.T) {
	var sender, target NodeID
	copy(sender[:], "abcdefghij0123456789")
	copy(target[:], "01234567890123456789")

	encoded, err := bencode.Marshal(Msg{
		T: "bb",
		Y: TypeQuery,
		Q: MethodFindNode,
		A: &Args{ID: string(sender[:]), Target: string(target[:])},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if encoded[0] != 'd' || encoded[len(encoded)-1] != 'e' {
		t.Error("Should be a bencoded dictionary")
	}

	msg, err := DecodeMsg(encoded)
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Q != MethodFindNode {
		t.Errorf("Expected query 'find_node', got %q", msg.Q)
	}
	if msg.A.ID != string(sender[:]) {
		t.Error("Sender ID mismatch")
	}
	if msg.A.Target != string(target[:]) {
		t.Error("Target mismatch")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var sender NodeID
	copy(sender[:], "abcdefghij0123456789")
	nodes := "x"

	encoded, err := bencode.Marshal(Msg{
		T: "cc",
		Y: TypeResponse,
		R: &Return{ID: string(sender[:]), Nodes: nodes, Values: []string{"peer1", "peer2"}},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := DecodeMsg(encoded)
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Y != TypeResponse {
		t.Errorf("Expected type 'r', got %q", msg.Y)
	}
	if msg.R == nil {
		t.Fatal("Missing response payload")
	}
	if msg.R.ID != string(sender[:]) {
		t.Error("Responder ID mismatch")
	}
	if msg.R.Nodes != nodes {
		t.Error("Nodes mismatch")
	}
	if len(msg.R.Values) != 2 || msg.R.Values[0] != "peer1" {
		t.Errorf("Values mismatch: %v", msg.R.Values)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	encoded, err := bencode.Marshal(Msg{
		T: "ee",
		Y: TypeError,
		E: &KRPCError{Code: ErrorGeneric, Msg: "A Generic Error"},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := DecodeMsg(encoded)
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Y != TypeError {
		t.Errorf("Expected type 'e', got %q", msg.Y)
	}
	if msg.E == nil {
		t.Fatal("Missing error payload")
	}
	if msg.E.Code != ErrorGeneric {
		t.Errorf("Expected code %d, got %d", ErrorGeneric, msg.E.Code)
	}
	if msg.E.Msg != "A Generic Error" {
		t.Errorf("Expected 'A Generic Error', got %q", msg.E.Msg)
	}
}

func TestDecodeMsgRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"not-bencode",
		"",
		"d1:y1:qe",  // missing t
		"d1:t2:aae", // missing y
		"le",        // not a dictionary
	} {
		if _, err := DecodeMsg([]byte(raw)); err == nil {
			t.Errorf("DecodeMsg(%q) should have failed", raw)
		}
	}
}

func TestDecodeMsgIgnoresUnknownKeys(t *testing.T) {
	raw := "d1:ad2:id20:abcdefghij012345678912:unknown_key1i7ee1:q4:ping1:t2:aa1:y1:qe"
	msg, err := DecodeMsg([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Q != MethodPing {
		t.Errorf("Expected query 'ping', got %q", msg.Q)
	}
}

func TestIDFromString(t *testing.T) {
	if _, ok := idFromString("too short"); ok {
		t.Error("Short ID should be rejected")
	}
	id, ok := idFromString("abcdefghij0123456789")
	if !ok {
		t.Fatal("Valid ID rejected")
	}
	if string(id[:]) != "abcdefghij0123456789" {
		t.Error("ID bytes mismatch")
	}
}
