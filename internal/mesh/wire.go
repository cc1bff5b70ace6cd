package mesh

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// The radio daemon speaks newline-delimited JSON frames over a local socket.
// Inbound frame types: packet, stats, nodes. Outbound: send.

const (
	frameTypePacket = "packet"
	frameTypeStats  = "stats"
	frameTypeNodes  = "nodes"
	frameTypeSend   = "send"
)

// Frame is the wire envelope. Exactly one payload field is set, selected by Type.
type Frame struct {
	Type string `json:"type"`

	// packet
	From    string   `json:"from,omitempty"`
	Channel int      `json:"channel,omitempty"`
	Text    string   `json:"text,omitempty"`
	RxSNR   *float64 `json:"rx_snr,omitempty"`
	RxRSSI  *float64 `json:"rx_rssi,omitempty"`

	// stats
	TxAirtime   float64 `json:"tx_airtime,omitempty"`
	RxAirtime   float64 `json:"rx_airtime,omitempty"`
	ChannelUtil float64 `json:"channel_util,omitempty"`

	// nodes
	Nodes []wireNode `json:"nodes,omitempty"`
}

type wireNode struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name,omitempty"`
	LongName  string `json:"long_name,omitempty"`
	LastSeen  int64  `json:"last_seen,omitempty"` // unix seconds
}

// EncodeFrame writes one frame followed by a newline.
func EncodeFrame(w io.Writer, f *Frame) error {
	if f.Type == "" {
		return fmt.Errorf("frame type is empty")
	}
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(f); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}

// DecodeFrame parses one frame and validates its type.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("frame is not valid JSON: %w", err)
	}

	switch f.Type {
	case frameTypePacket, frameTypeStats, frameTypeNodes, frameTypeSend:
	case "":
		return nil, fmt.Errorf("frame missing required field: type")
	default:
		return nil, fmt.Errorf("unknown frame type: %q", f.Type)
	}
	return &f, nil
}

func (f *Frame) packet(now time.Time) Packet {
	return Packet{
		From:       NodeID(f.From),
		Channel:    f.Channel,
		Text:       f.Text,
		RxSNR:      f.RxSNR,
		RxRSSI:     f.RxRSSI,
		ReceivedAt: now,
	}
}

func (f *Frame) stats(now time.Time) Stats {
	return Stats{
		TxAirtimePct:   f.TxAirtime,
		RxAirtimePct:   f.RxAirtime,
		ChannelUtilPct: f.ChannelUtil,
		SampledAt:      now,
	}
}

func (f *Frame) nodeInfos() []NodeInfo {
	out := make([]NodeInfo, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		info := NodeInfo{
			ID:        NodeID(n.ID),
			ShortName: n.ShortName,
			LongName:  n.LongName,
		}
		if n.LastSeen > 0 {
			info.LastSeen = time.Unix(n.LastSeen, 0).UTC()
		}
		out = append(out, info)
	}
	return out
}

func sendFrame(channel int, text string) *Frame {
	return &Frame{
		Type:    frameTypeSend,
		Channel: channel,
		Text:    text,
	}
}
