package mesh

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jvasek/meshbot/internal/log"
)

// maxFrameBytes caps a single wire frame. Mesh payloads are tiny; anything
// larger is a confused or hostile peer.
const maxFrameBytes = 256 * 1024

// Client connects to the radio daemon over a local socket and implements
// Interface. A lost connection is terminal: the supervisor restarts the
// process rather than the client reconnecting.
type Client struct {
	conn    net.Conn
	logger  *slog.Logger
	packets chan Packet
	stats   chan Stats

	mu      sync.Mutex // guards writes to conn and the fields below
	nodes   []NodeInfo
	err     error
	closed  bool
	writeMu sync.Mutex
}

// Dial connects to a "unix:/path" or "tcp:host:port" endpoint.
func Dial(device string) (*Client, error) {
	network, addr, ok := splitDevice(device)
	if !ok {
		return nil, fmt.Errorf("invalid device endpoint %q (want unix:/path or tcp:host:port)", device)
	}

	conn, err := net.DialTimeout(network, addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to radio daemon: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  log.WithComponent("mesh"),
		packets: make(chan Packet, 16),
		stats:   make(chan Stats, 4),
	}
	go c.readLoop()
	return c, nil
}

func splitDevice(device string) (network, addr string, ok bool) {
	switch {
	case strings.HasPrefix(device, "unix:"):
		return "unix", strings.TrimPrefix(device, "unix:"), true
	case strings.HasPrefix(device, "tcp:"):
		return "tcp", strings.TrimPrefix(device, "tcp:"), true
	default:
		return "", "", false
	}
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := DecodeFrame(line)
		if err != nil {
			// Malformed input must not kill the link.
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		now := time.Now()
		switch frame.Type {
		case frameTypePacket:
			select {
			case c.packets <- frame.packet(now):
			default:
				c.logger.Warn("packet buffer full, dropping packet", "from", frame.From)
			}
		case frameTypeStats:
			select {
			case c.stats <- frame.stats(now):
			default:
			}
		case frameTypeNodes:
			c.mu.Lock()
			c.nodes = frame.nodeInfos()
			c.mu.Unlock()
		}
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("radio daemon closed the connection")
	}

	c.mu.Lock()
	if !c.closed {
		c.err = err
	}
	c.mu.Unlock()

	close(c.packets)
	close(c.stats)
}

// SendText transmits text on the given channel index.
func (c *Client) SendText(channel int, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := EncodeFrame(c.conn, sendFrame(channel, text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// Nodes returns the latest node directory pushed by the daemon.
func (c *Client) Nodes() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NodeInfo, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// Packets delivers decoded inbound packets until the transport is lost.
func (c *Client) Packets() <-chan Packet { return c.packets }

// Stats delivers periodic radio statistics samples.
func (c *Client) Stats() <-chan Stats { return c.stats }

// Err returns the terminal transport error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts down the connection. Packets and Stats close shortly after.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
