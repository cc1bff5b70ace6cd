// Package dispatch runs the receive loop: it filters inbound packets, routes
// commands through the registry, and sends bounded replies back out.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/config"
	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/sysinfo"
)

const (
	// maxInFlight bounds concurrent handler executions. Mesh throughput is
	// low; this only exists so one slow weather lookup cannot pile up
	// goroutines while the receive loop keeps draining packets.
	maxInFlight = 4

	replyTimeout = "⏳ Command timed out."
	replyFailed  = "⚠️ Command failed. Try again later."
)

// Dispatcher consumes packets from the transport and turns commands into
// replies. One Dispatcher instance runs per process.
type Dispatcher struct {
	registry *command.Registry
	env      *command.Env
	logger   *slog.Logger

	channel        int
	prefix         string
	maxReplyLen    int
	handlerTimeout time.Duration
	activityNotify bool

	sem chan struct{}
}

// New wires a Dispatcher from the loaded config and an Env that already
// carries the mailbox, telemetry, and transport singletons.
func New(cfg *config.Config, reg *command.Registry, env *command.Env) *Dispatcher {
	return &Dispatcher{
		registry:       reg,
		env:            env,
		logger:         log.WithComponent("dispatch"),
		channel:        cfg.ChannelIndex,
		prefix:         cfg.CommandPrefix,
		maxReplyLen:    cfg.MaxReplyLen,
		handlerTimeout: cfg.HandlerTimeout,
		activityNotify: cfg.Mailbox.DeliverOnActivityEnabled(),
		sem:            make(chan struct{}, maxInFlight),
	}
}

// Run blocks consuming packets and stats until ctx is cancelled or the
// transport is lost. Transport loss is the one fatal condition here: the
// surrounding supervisor restarts the process to re-establish the link.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "channel", d.channel, "prefix", d.prefix)
	defer d.logger.Info("dispatch loop stopped")

	packets := d.env.Mesh.Packets()
	stats := d.env.Mesh.Stats()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-stats:
			if !ok {
				stats = nil
				continue
			}
			d.env.Telemetry.Update(s)
		case p, ok := <-packets:
			if !ok {
				err := d.env.Mesh.Err()
				if err == nil {
					return nil
				}
				return fmt.Errorf("transport lost: %w", err)
			}
			d.handlePacket(ctx, p)
		}
	}
}

// handlePacket applies the channel and prefix filters, pushes any pending
// mail for the sender, and hands commands off to a bounded worker.
func (d *Dispatcher) handlePacket(ctx context.Context, p mesh.Packet) {
	if p.Channel != d.channel {
		d.logger.Debug("ignoring off-channel packet", "from", p.From, "channel", p.Channel)
		return
	}

	inv, isCommand := parseCommand(p, d.prefix)

	// Any on-channel activity proves the node is reachable; push stored
	// mail at it now. The inbox command does its own retrieval, so it is
	// exempt to keep delivery single-sourced for that cycle.
	if d.activityNotify && !(isCommand && inv.Name == "inbox") {
		d.deliverPending(p.From)
	}

	if !isCommand {
		return
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	go func() {
		defer func() { <-d.sem }()
		reply := d.invoke(ctx, inv)
		if reply == "" {
			return
		}
		d.send(reply)
	}()
}

// invoke resolves and runs one command under the execution budget. It always
// returns user-facing text (or "" for silence); internal detail goes to the
// log, never to the radio.
func (d *Dispatcher) invoke(ctx context.Context, inv *command.Invocation) string {
	desc, ok := d.registry.Get(inv.Name)
	if !ok {
		return fmt.Sprintf("Unknown command '%s'. Try %shelp", inv.Name, d.prefix)
	}

	cctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		text, err := desc.Handler.Invoke(cctx, d.env, inv)
		done <- result{text: text, err: err}
	}()

	select {
	case <-cctx.Done():
		d.logger.Warn("handler timed out, abandoning",
			"command", inv.Name, "source", desc.Source, "timeout", d.handlerTimeout)
		return replyTimeout
	case res := <-done:
		if res.err != nil {
			d.logger.Error("handler failed",
				"command", inv.Name, "source", desc.Source, "from", inv.Sender, "error", res.err.Error())
			return replyFailed
		}
		return res.text
	}
}

// deliverPending pushes each stored entry for the node as its own send.
func (d *Dispatcher) deliverPending(recipient mesh.NodeID) {
	if d.env.Mailbox == nil || d.env.Mailbox.Pending(recipient) == 0 {
		return
	}
	entries, err := d.env.Mailbox.Retrieve(recipient)
	if err != nil {
		d.logger.Error("activity delivery failed", "recipient", recipient, "error", err.Error())
		return
	}
	name := mesh.DisplayName(d.env.Mesh.Nodes(), recipient)
	for _, e := range entries {
		d.send(fmt.Sprintf("📮 %s: from %s (%s ago): %s",
			name, senderLabel(e), sysinfo.FormatDuration(time.Since(e.StoredAt)), e.Body))
	}
	d.logger.Info("delivered stored mail on activity", "recipient", recipient, "count", len(entries))
}

func (d *Dispatcher) send(text string) {
	if err := d.env.Mesh.SendText(d.channel, Truncate(text, d.maxReplyLen)); err != nil {
		d.logger.Warn("send failed", "error", err.Error())
	}
}

func senderLabel(e mailbox.Entry) string {
	if e.SenderDisplay != "" {
		return e.SenderDisplay
	}
	return string(e.Sender)
}

// parseCommand extracts an invocation from packet text. The second return is
// false for non-command chatter.
func parseCommand(p mesh.Packet, prefix string) (*command.Invocation, bool) {
	text := strings.TrimSpace(p.Text)
	if !strings.HasPrefix(text, prefix) {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return nil, false
	}
	return &command.Invocation{
		Name:   strings.ToLower(fields[0]),
		Args:   fields[1:],
		Raw:    p.Text,
		Sender: p.From,
		Packet: p,
	}, true
}

// Truncate bounds text to max bytes without splitting a UTF-8 sequence,
// marking the cut with an ellipsis.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	const ellipsis = "…"
	cut := max - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + ellipsis
}
