package dht

import (
	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"
)

// KRPC message types ("y" values)
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// KRPC query methods
const (
	MethodPing     = "ping"
	MethodFindNode = "find_node"
	MethodGetPeers = "get_peers"
	MethodAnnounce = "announce_peer"
)

// KRPC error codes
const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

// Msg is a single KRPC message: a bencoded dictionary carried in one UDP
// datagram. "t" and "y" are present on every message; the remaining keys
// depend on the message type.
type Msg struct {
	T  string     `bencode:"t"`
	Y  string     `bencode:"y"`
	Q  string     `bencode:"q,omitempty"`
	A  *Args      `bencode:"a,omitempty"`
	R  *Return    `bencode:"r,omitempty"`
	E  *KRPCError `bencode:"e,omitempty"`
	IP string     `bencode:"ip,omitempty"` // our address as the remote sees it
}

// Args holds the named arguments of a query
type Args struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Token       string `bencode:"token,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
}

// Return holds the payload of a response
type Return struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// KRPCError is the payload of an error message, a [code, message] list on
// the wire.
type KRPCError struct {
	Code int
	Msg  string
}

func (e KRPCError) MarshalBencode() ([]byte, error) {
	return bencode.Marshal([]interface{}{e.Code, e.Msg})
}

func (e *KRPCError) UnmarshalBencode(b []byte) error {
	var l []interface{}
	if err := bencode.Unmarshal(b, &l); err != nil {
		return err
	}
	if len(l) != 2 {
		return errors.Errorf("error payload has %d elements, want 2", len(l))
	}
	code, ok := l[0].(int64)
	if !ok {
		return errors.New("error code is not an integer")
	}
	msg, ok := l[1].(string)
	if !ok {
		return errors.New("error message is not a string")
	}
	e.Code = int(code)
	e.Msg = msg
	return nil
}

// DecodeMsg parses one datagram into a KRPC message
func DecodeMsg(data []byte) (*Msg, error) {
	var m Msg
	if err := bencode.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "bencode")
	}
	if m.T == "" {
		return nil, errors.New("missing transaction ID")
	}
	if m.Y == "" {
		return nil, errors.New("missing message type")
	}
	return &m, nil
}

// idFromString converts the raw "id"/"target"/"info_hash" value of a
// message into a NodeID, rejecting anything that is not 20 bytes
func idFromString(s string) (NodeID, bool) {
	var id NodeID
	if len(s) != len(id) {
		return id, false
	}
	copy(id[:], s)
	return id, true
}
