package mesh

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NodeID is the canonical mesh node identifier, "!%08x".
type NodeID string

var nodeIDPattern = regexp.MustCompile(`^![0-9a-f]{8}$`)

// FormatNodeID converts a raw node number to its canonical string form.
func FormatNodeID(num uint32) NodeID {
	return NodeID(fmt.Sprintf("!%08x", num))
}

// Valid reports whether the ID is in canonical form.
func (id NodeID) Valid() bool {
	return nodeIDPattern.MatchString(string(id))
}

// Packet is one decoded inbound text packet from the radio daemon.
// Immutable once received; owned by the dispatcher for one dispatch cycle.
type Packet struct {
	From       NodeID
	Channel    int
	Text       string
	RxSNR      *float64
	RxRSSI     *float64
	ReceivedAt time.Time
}

// NodeInfo describes one known node in the mesh directory.
type NodeInfo struct {
	ID        NodeID
	ShortName string
	LongName  string
	LastSeen  time.Time
}

// Name returns the preferred display name for the node, or "" if unnamed.
func (n NodeInfo) Name() string {
	if n.ShortName != "" {
		return n.ShortName
	}
	return n.LongName
}

// Stats is one periodic radio duty-cycle sample pushed by the daemon.
type Stats struct {
	TxAirtimePct   float64
	RxAirtimePct   float64
	ChannelUtilPct float64
	SampledAt      time.Time
}

// Interface is the transport adapter boundary. The core never manages the
// physical link; it consumes decoded packets and emits channel sends.
type Interface interface {
	// SendText transmits text on the given channel index.
	SendText(channel int, text string) error
	// Nodes returns the current node directory snapshot.
	Nodes() []NodeInfo
	// Packets delivers decoded inbound packets. The channel closes when the
	// transport is lost; Err then reports why.
	Packets() <-chan Packet
	// Stats delivers periodic radio statistics samples.
	Stats() <-chan Stats
	// Err returns the terminal transport error, if any.
	Err() error
	Close() error
}

// LookupName resolves a node ID to its display name within a directory
// snapshot. Returns "" when the node is unknown or unnamed.
func LookupName(nodes []NodeInfo, id NodeID) string {
	for _, n := range nodes {
		if n.ID == id {
			return n.Name()
		}
	}
	return ""
}

// ResolveTarget resolves a user-supplied token to a node. The token may be a
// canonical !hexid, a short name, or a long name (both case-insensitive).
func ResolveTarget(nodes []NodeInfo, token string) (NodeID, string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", false
	}

	id := NodeID(strings.ToLower(token))
	if id.Valid() {
		return id, LookupName(nodes, id), true
	}

	for _, n := range nodes {
		if strings.EqualFold(n.ShortName, token) || strings.EqualFold(n.LongName, token) {
			return n.ID, n.Name(), true
		}
	}
	return "", "", false
}

// DisplayName formats a node for user-facing text: "Name (!id)" when a name
// is known, otherwise just the ID.
func DisplayName(nodes []NodeInfo, id NodeID) string {
	if name := LookupName(nodes, id); name != "" {
		return fmt.Sprintf("%s (%s)", name, id)
	}
	return string(id)
}
