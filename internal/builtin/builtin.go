// Package builtin provides the bot's built-in commands. They register before
// any plugin, so a plugin can never shadow them.
package builtin

import (
	"context"
	"fmt"

	"github.com/jvasek/meshbot/internal/command"
)

// WeatherLookup is the external weather collaborator boundary.
type WeatherLookup interface {
	Current(ctx context.Context, place string) (string, error)
}

// Options carries the collaborators and presentation settings built-ins need.
type Options struct {
	Weather             WeatherLookup
	WeatherDefaultPlace string
	Prefix              string
}

// RegisterAll registers every built-in command into reg.
func RegisterAll(reg *command.Registry, opts Options) error {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}

	descriptors := []command.Descriptor{
		{Name: "help", Help: "List commands, or show one command's help.", Handler: helpHandler(reg, opts.Prefix)},
		{Name: "?", Help: "Alias for help.", Handler: helpHandler(reg, opts.Prefix)},
		{Name: "ping", Help: "Round-trip check with signal quality.", Handler: command.HandlerFunc(cmdPing)},
		{Name: "whoami", Help: "Show your node identifier.", Handler: command.HandlerFunc(cmdWhoami)},
		{Name: "nodes", Help: "List known mesh nodes.", Handler: command.HandlerFunc(cmdNodes)},
		{Name: "uptime", Help: "Bot and host uptime.", Handler: command.HandlerFunc(cmdUptime)},
		{Name: "weather", Help: "Current weather for a place.", Handler: weatherHandler(opts)},
		{Name: "air", Help: "Radio airtime and channel utilization.", Handler: command.HandlerFunc(cmdAir)},
		{Name: "msg", Help: "Leave a message for an offline node.", Handler: command.HandlerFunc(cmdMsg)},
		{Name: "inbox", Help: "Read messages left for you.", Handler: command.HandlerFunc(cmdInbox)},
	}

	for i := range descriptors {
		descriptors[i].Source = command.SourceBuiltin
		if err := reg.Register(descriptors[i]); err != nil {
			return fmt.Errorf("register builtin %q: %w", descriptors[i].Name, err)
		}
	}
	return nil
}

// clamp bounds s to n bytes, marking the cut with an ellipsis.
func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	out := ""
	for _, r := range runes {
		if len(out)+len(string(r)) > n-len("…") {
			break
		}
		out += string(r)
	}
	return out + "…"
}
