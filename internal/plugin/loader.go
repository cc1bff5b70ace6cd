// Package plugin loads Lua command plugins from a directory. Each .lua file
// is one plugin running in its own interpreter state, so a faulty plugin
// cannot corrupt the core or its neighbours.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/jvasek/meshbot/internal/command"
	meshlog "github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mesh"
)

// LoadReport describes the outcome of loading one plugin file. A non-nil Err
// means the plugin was skipped entirely; Skipped lists commands that lost a
// name collision against an earlier registration.
type LoadReport struct {
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	Skipped  []string `json:"skipped,omitempty"`
	Err      error    `json:"-"`
}

// Error returns the load failure as text for JSON and CLI rendering.
func (r LoadReport) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// instance is one loaded plugin: an isolated Lua state plus the mutex that
// serialises access to it. lua.State is not safe for concurrent use.
type instance struct {
	name  string
	path  string
	mu    sync.Mutex
	state *lua.State
}

// pending is a command collected during plugin evaluation, before it is
// offered to the registry.
type pending struct {
	name string
	help string
	key  string
}

// Load scans dir for *.lua files and registers every command they declare.
// Files load in lexical order; a plugin that violates the contract is
// reported and skipped without affecting the others. A missing directory is
// not an error: the bot runs fine with no plugins at all.
func Load(dir string, reg *command.Registry) ([]LoadReport, error) {
	logger := meshlog.WithComponent("plugin")

	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugins dir %q: %w", dir, err)
	}
	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		logger.Info("plugins directory not found, continuing without plugins", "dir", absDir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat plugins dir %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugins path is not a directory: %s", absDir)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins dir %s: %w", absDir, err)
	}

	var reports []LoadReport
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		path := filepath.Join(absDir, entry.Name())
		rep := loadOne(path, reg, logger)
		if rep.Err != nil {
			logger.Warn("failed to load plugin", "path", path, "error", rep.Err.Error())
		} else {
			logger.Info("loaded plugin", "name", rep.Name, "commands", strings.Join(rep.Commands, ","))
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// loadOne evaluates a single plugin file. The chunk may return a declaration
// table, define a global register(core) hook, or both.
func loadOne(path string, reg *command.Registry, logger *slog.Logger) LoadReport {
	rep := LoadReport{
		Path: path,
		Name: strings.TrimSuffix(filepath.Base(path), ".lua"),
	}

	p := &instance{name: rep.Name, path: path, state: lua.NewState()}
	lua.OpenLibraries(p.state)

	if err := lua.LoadFile(p.state, path, ""); err != nil {
		rep.Err = fmt.Errorf("load: %w", err)
		return rep
	}
	if err := p.state.ProtectedCall(0, 1, 0); err != nil {
		rep.Err = fmt.Errorf("run: %w", err)
		return rep
	}

	var cmds []pending
	switch p.state.TypeOf(-1) {
	case lua.TypeTable:
		declared, name, err := p.parseDeclaration()
		if err != nil {
			rep.Err = err
			return rep
		}
		if name != "" {
			rep.Name = name
			p.name = name
		}
		cmds = append(cmds, declared...)
	case lua.TypeNil:
		p.state.Pop(1)
	default:
		rep.Err = fmt.Errorf("plugin chunk returned %s, want table or nothing", lua.TypeNameOf(p.state, -1))
		return rep
	}

	hooked, err := p.callRegisterHook()
	if err != nil {
		rep.Err = err
		return rep
	}
	cmds = append(cmds, hooked...)

	if len(cmds) == 0 {
		rep.Err = fmt.Errorf("plugin declares no commands")
		return rep
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })

	for _, c := range cmds {
		desc := command.Descriptor{
			Name:    c.name,
			Help:    c.help,
			Source:  command.SourcePlugin,
			Handler: &luaHandler{plugin: p, key: c.key},
		}
		if err := reg.Register(desc); err != nil {
			logger.Warn("command name collision, keeping first registration",
				"plugin", rep.Name, "command", c.name, "error", err.Error())
			rep.Skipped = append(rep.Skipped, c.name)
			continue
		}
		rep.Commands = append(rep.Commands, c.name)
	}
	return rep
}

// parseDeclaration consumes the table on top of the stack. Expected shape:
//
//	{ name = "fun", commands = { roll = { help = "...", handler = fn } } }
func (p *instance) parseDeclaration() ([]pending, string, error) {
	l := p.state
	t := l.AbsIndex(-1)
	defer l.SetTop(t - 1)

	var name string
	l.Field(t, "name")
	if l.TypeOf(-1) == lua.TypeString {
		name, _ = l.ToString(-1)
	}
	l.Pop(1)

	l.Field(t, "commands")
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, "", fmt.Errorf("plugin table has no commands table")
	}
	cmdsIdx := l.AbsIndex(-1)

	var cmds []pending
	l.PushNil()
	for l.Next(cmdsIdx) {
		if l.TypeOf(-2) != lua.TypeString {
			return nil, "", fmt.Errorf("command name must be a string, got %s", lua.TypeNameOf(l, -2))
		}
		cmdName, _ := l.ToString(-2)
		cmd, err := p.parseCommandEntry(cmdName, l.AbsIndex(-1))
		if err != nil {
			return nil, "", err
		}
		cmds = append(cmds, cmd)
		l.Pop(1)
	}
	return cmds, name, nil
}

// parseCommandEntry reads one commands[name] table and stashes its handler
// function in the Lua registry under a stable key.
func (p *instance) parseCommandEntry(cmdName string, idx int) (pending, error) {
	l := p.state
	if l.TypeOf(idx) != lua.TypeTable {
		return pending{}, fmt.Errorf("command %q must be a table, got %s", cmdName, lua.TypeNameOf(l, idx))
	}

	var help string
	l.Field(idx, "help")
	if l.TypeOf(-1) == lua.TypeString {
		help, _ = l.ToString(-1)
	}
	l.Pop(1)

	l.Field(idx, "handler")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return pending{}, fmt.Errorf("command %q has no handler function", cmdName)
	}
	key := handlerKey(p.name, cmdName)
	l.SetField(lua.RegistryIndex, key)

	return pending{name: cmdName, help: help, key: key}, nil
}

// callRegisterHook invokes the plugin's optional global register(core)
// function. core exposes a single method:
//
//	core.register(name, help, handler)
func (p *instance) callRegisterHook() ([]pending, error) {
	l := p.state
	l.Global("register")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return nil, nil
	}

	var cmds []pending
	var hookErr error
	l.NewTable()
	l.PushGoFunction(func(l *lua.State) int {
		name := lua.CheckString(l, 1)
		help := lua.CheckString(l, 2)
		lua.CheckType(l, 3, lua.TypeFunction)
		if strings.TrimSpace(name) == "" {
			hookErr = fmt.Errorf("register called with empty command name")
			return 0
		}
		key := handlerKey(p.name, name)
		l.PushValue(3)
		l.SetField(lua.RegistryIndex, key)
		cmds = append(cmds, pending{name: name, help: help, key: key})
		return 0
	})
	l.SetField(-2, "register")

	if err := l.ProtectedCall(1, 0, 0); err != nil {
		return nil, fmt.Errorf("register hook: %w", err)
	}
	if hookErr != nil {
		return nil, hookErr
	}
	return cmds, nil
}

func handlerKey(plugin, cmd string) string {
	return "meshbot.handler." + plugin + "." + cmd
}

// luaHandler adapts one stored Lua function to the command.Handler contract.
// Calls into a plugin are serialised; the interpreter cannot be preempted, so
// the dispatcher's timeout abandons the call rather than interrupting it.
type luaHandler struct {
	plugin *instance
	key    string
}

func (h *luaHandler) Invoke(_ context.Context, env *command.Env, inv *command.Invocation) (string, error) {
	p := h.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.state
	top := l.Top()
	defer l.SetTop(top)

	l.Field(lua.RegistryIndex, h.key)
	if l.TypeOf(-1) != lua.TypeFunction {
		return "", fmt.Errorf("plugin %s: handler %s vanished from registry", p.name, h.key)
	}
	pushContext(l, env, inv)
	pushArgs(l, inv.Args)

	if err := l.ProtectedCall(2, 1, 0); err != nil {
		return "", fmt.Errorf("plugin %s: %w", p.name, err)
	}

	switch l.TypeOf(-1) {
	case lua.TypeNil:
		return "", nil
	case lua.TypeString, lua.TypeNumber:
		s, _ := l.ToString(-1)
		return s, nil
	default:
		return "", fmt.Errorf("plugin %s: handler returned %s, want string or nil", p.name, lua.TypeNameOf(l, -1))
	}
}

// pushContext builds the ctx table handlers receive as their first argument.
func pushContext(l *lua.State, env *command.Env, inv *command.Invocation) {
	l.NewTable()
	l.PushString(string(inv.Sender))
	l.SetField(-2, "sender")
	if env.Mesh != nil {
		if name := mesh.LookupName(env.Mesh.Nodes(), inv.Sender); name != "" {
			l.PushString(name)
			l.SetField(-2, "sender_name")
		}
	}
	if inv.Packet.RxSNR != nil {
		l.PushNumber(*inv.Packet.RxSNR)
		l.SetField(-2, "snr")
	}
	if inv.Packet.RxRSSI != nil {
		l.PushNumber(*inv.Packet.RxRSSI)
		l.SetField(-2, "rssi")
	}
	l.PushInteger(inv.Packet.Channel)
	l.SetField(-2, "channel")
}

func pushArgs(l *lua.State, args []string) {
	l.NewTable()
	for i, a := range args {
		l.PushString(a)
		l.RawSetInt(-2, i+1)
	}
}
