package mesh

import "sync"

// SentText records one outbound send for assertions.
type SentText struct {
	Channel int
	Text    string
}

// Fake is an in-memory Interface implementation for tests.
type Fake struct {
	mu      sync.Mutex
	sent    []SentText
	nodes   []NodeInfo
	err     error
	packets chan Packet
	stats   chan Stats
	sendErr error
}

// NewFake creates a Fake with buffered inbound channels.
func NewFake() *Fake {
	return &Fake{
		packets: make(chan Packet, 16),
		stats:   make(chan Stats, 16),
	}
}

func (f *Fake) SendText(channel int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, SentText{Channel: channel, Text: text})
	return nil
}

func (f *Fake) Nodes() []NodeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NodeInfo, len(f.nodes))
	copy(out, f.nodes)
	return out
}

func (f *Fake) Packets() <-chan Packet { return f.packets }
func (f *Fake) Stats() <-chan Stats    { return f.stats }

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Close() error {
	close(f.packets)
	close(f.stats)
	return nil
}

// Inject delivers a packet as if received from the radio.
func (f *Fake) Inject(p Packet) { f.packets <- p }

// InjectStats delivers a statistics sample.
func (f *Fake) InjectStats(s Stats) { f.stats <- s }

// SetNodes replaces the node directory.
func (f *Fake) SetNodes(nodes []NodeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = nodes
}

// SetSendErr makes subsequent SendText calls fail.
func (f *Fake) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetErr sets the terminal transport error.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Sent returns a copy of all recorded sends.
func (f *Fake) Sent() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentText, len(f.sent))
	copy(out, f.sent)
	return out
}
