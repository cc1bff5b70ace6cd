package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/sysinfo"
)

// inboxBodyClamp bounds each rendered body so one long message cannot eat
// the whole reply budget.
const inboxBodyClamp = 80

func cmdMsg(_ context.Context, env *command.Env, inv *command.Invocation) (string, error) {
	if len(inv.Args) < 2 {
		return "Usage: !msg <node|!hexid|name> <text>", nil
	}

	target := inv.Args[0]
	body := strings.TrimSpace(strings.Join(inv.Args[1:], " "))
	if body == "" {
		return "❌ Missing message text.", nil
	}

	nodes := env.Mesh.Nodes()
	recipient, recipientName, ok := mesh.ResolveTarget(nodes, target)
	if !ok {
		return fmt.Sprintf("❌ Cannot find node %q. Try !nodes for a list.", target), nil
	}

	ack, err := env.Mailbox.Put(inv.Sender, mesh.DisplayName(nodes, inv.Sender), recipient, body)
	switch {
	case errors.Is(err, mailbox.ErrTooLong):
		return "❌ Message too long for the mailbox.", nil
	case errors.Is(err, mailbox.ErrInvalidRecipient):
		return fmt.Sprintf("❌ Invalid recipient %q.", target), nil
	case errors.Is(err, mailbox.ErrQueueFull):
		return fmt.Sprintf("⚠️ Mailbox for %s was full: the oldest unread message was dropped, yours is queued (#%d).",
			displayTarget(recipientName, recipient), ack.Position), nil
	case err != nil:
		return "", err
	}

	return fmt.Sprintf("✅ Saved for %s (#%d in queue). Will deliver when they are active on channel %d.",
		displayTarget(recipientName, recipient), ack.Position, env.ChannelIndex), nil
}

func cmdInbox(_ context.Context, env *command.Env, inv *command.Invocation) (string, error) {
	entries, err := env.Mailbox.Retrieve(inv.Sender)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "📭 Inbox: empty.", nil
	}

	now := inv.Packet.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- from %s (%s): %s",
			senderLabel(e), sysinfo.FormatDuration(now.Sub(e.StoredAt)), clamp(e.Body, inboxBodyClamp)))
	}
	return "📬 Inbox:\n" + strings.Join(lines, "\n"), nil
}

func senderLabel(e mailbox.Entry) string {
	if e.SenderDisplay != "" {
		return e.SenderDisplay
	}
	return string(e.Sender)
}

func displayTarget(name string, id mesh.NodeID) string {
	if name != "" {
		return name
	}
	return string(id)
}
