package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/sysinfo"
)

// maxNodesListed caps the !nodes listing; the count still covers everything.
const maxNodesListed = 8

func cmdPing(_ context.Context, _ *command.Env, inv *command.Invocation) (string, error) {
	var extras []string
	if inv.Packet.RxSNR != nil {
		extras = append(extras, fmt.Sprintf("SNR %.1f", *inv.Packet.RxSNR))
	}
	if inv.Packet.RxRSSI != nil {
		extras = append(extras, fmt.Sprintf("RSSI %.0f", *inv.Packet.RxRSSI))
	}

	reply := "pong 🏓"
	if len(extras) > 0 {
		reply += " (" + strings.Join(extras, ", ") + ")"
	}
	return reply, nil
}

func cmdWhoami(_ context.Context, env *command.Env, inv *command.Invocation) (string, error) {
	return "You are: " + mesh.DisplayName(env.Mesh.Nodes(), inv.Sender), nil
}

func cmdNodes(_ context.Context, env *command.Env, _ *command.Invocation) (string, error) {
	nodes := env.Mesh.Nodes()

	names := make([]string, 0, maxNodesListed)
	for _, n := range nodes {
		if len(names) == maxNodesListed {
			break
		}
		if name := n.Name(); name != "" {
			names = append(names, name)
		} else {
			names = append(names, string(n.ID))
		}
	}

	reply := fmt.Sprintf("📡 Nodes: %d", len(nodes))
	if len(names) > 0 {
		reply += " | " + strings.Join(names, ", ")
	}
	return reply, nil
}

func cmdUptime(_ context.Context, env *command.Env, _ *command.Invocation) (string, error) {
	bot := sysinfo.FormatDuration(env.Telemetry.Snapshot().BotUptime)

	host, err := sysinfo.HostUptime()
	if err != nil {
		return fmt.Sprintf("⏱️ Uptime: bot %s", bot), nil
	}
	return fmt.Sprintf("⏱️ Uptime: bot %s, system %s", bot, sysinfo.FormatDuration(host)), nil
}

func cmdAir(_ context.Context, env *command.Env, _ *command.Invocation) (string, error) {
	snap := env.Telemetry.Snapshot()
	if !snap.HasSample {
		return "📡 Airtime: metrics not available yet, waiting for the radio to report.", nil
	}
	return fmt.Sprintf("📡 Airtime: TX %s | RX %s | CH %s",
		fmtPct(snap.TxAirtimePct), fmtPct(snap.RxAirtimePct), fmtPct(snap.ChannelUtilPct)), nil
}

func fmtPct(v float64) string {
	if v == float64(int(v)) {
		return fmt.Sprintf("%d%%", int(v))
	}
	return fmt.Sprintf("%.1f%%", v)
}
