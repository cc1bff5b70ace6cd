// Package command defines the handler contract shared by built-in commands
// and loaded plugins, and the registry the dispatcher routes through.
package command

import (
	"context"
	"log/slog"

	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/telemetry"
)

// Source identifies where a handler came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourcePlugin  Source = "plugin"
)

// Env exposes the core services a handler may use. It is the entire
// capability surface: handlers cannot reach core internals beyond it.
type Env struct {
	Mailbox   *mailbox.Store
	Telemetry *telemetry.Tracker
	Mesh      mesh.Interface
	Logger    *slog.Logger

	ChannelIndex int
	MaxReplyLen  int
}

// Invocation is one parsed command, derived from an inbound packet. It only
// exists for the duration of a dispatch cycle.
type Invocation struct {
	Name   string
	Args   []string
	Raw    string
	Sender mesh.NodeID
	Packet mesh.Packet
}

// Handler maps an invocation to reply text. An empty reply with a nil error
// means no response is sent.
type Handler interface {
	Invoke(ctx context.Context, env *Env, inv *Invocation) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Env, inv *Invocation) (string, error)

func (f HandlerFunc) Invoke(ctx context.Context, env *Env, inv *Invocation) (string, error) {
	return f(ctx, env, inv)
}

// Descriptor is a registered command.
type Descriptor struct {
	Name    string
	Help    string
	Source  Source
	Handler Handler
}
