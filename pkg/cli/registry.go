package cli

import (
	"errors"
	"fmt"
	"sync"
)

// Handler is a command's entry point. argc/argv mirror the spec's
// "func(argc, argv, reply_ptr, version)" shape; it returns 0 on success
// or a command-local negative error code.
type Handler func(argc int, argv []string, reply *Reply, version uint8) int

// ExtendedHandler is the "extended variant" from spec §4.5: it carries an
// opaque per-command arg and a per-command override table is modeled by
// the caller closing over whatever state it needs when constructing the
// Command — Go doesn't need a separate override table, a closure does the
// same job without an extra indirection layer.
type ExtendedHandler func(argc int, argv []string, reply *Reply, version uint8, arg any) int

// Command is one entry of the command registry: documentation plus a
// handler (direct or extended-with-arg; exactly one must be set).
type Command struct {
	Name     string
	Docs     string
	Handler  Handler
	Ext      ExtendedHandler
	Arg      any
}

func (c *Command) run(argc int, argv []string, reply *Reply, version uint8) int {
	if c.Handler != nil {
		return c.Handler(argc, argv, reply, version)
	}
	return c.Ext(argc, argv, reply, version, c.Arg)
}

// Alias resolves to a base command plus an optional prefix argument list
// prepended to the caller's params before dispatch.
type Alias struct {
	Base   string
	Prefix []string
}

// ErrCommandExists is returned by Register for a name already registered.
var ErrCommandExists = errors.New("cli: command already registered")

// ErrAliasExists is returned by RegisterAlias for a name already registered.
var ErrAliasExists = errors.New("cli: alias already registered")

// ErrNoBaseCommand is returned by RegisterAlias when the alias's base
// command is not (yet) registered.
var ErrNoBaseCommand = errors.New("cli: alias base command not registered")

// CommandRegistry is the process-wide command + alias table. It is
// effectively read-only after startup (spec §5), so lookups only take the
// shared read lock; Register/RegisterAlias take the write lock.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]*Alias
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Alias),
	}
}

// Register adds cmd to the registry. Re-registering the same name fails
// with ErrCommandExists — unlike the transport/cluster registries, the
// CLI command table has no "idempotent success" rule in spec §4.5, so a
// collision here is treated as a programming error at startup.
func (r *CommandRegistry) Register(cmd *Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("cli: command has empty name")
	}
	if cmd.Handler == nil && cmd.Ext == nil {
		return fmt.Errorf("cli: command %q has no handler", cmd.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[cmd.Name]; ok {
		return fmt.Errorf("%w: %s", ErrCommandExists, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// RegisterAlias adds an alias resolving to base with the given prefix args.
func (r *CommandRegistry) RegisterAlias(name, base string, prefix []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.aliases[name]; ok {
		return fmt.Errorf("%w: %s", ErrAliasExists, name)
	}
	if _, ok := r.commands[base]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNoBaseCommand, name, base)
	}
	r.aliases[name] = &Alias{Base: base, Prefix: append([]string(nil), prefix...)}
	return nil
}

// Resolve looks up method as a direct command name first, then as an
// alias; it returns the resolved command plus any prefix args the alias
// contributes (nil for a direct match).
func (r *CommandRegistry) Resolve(method string) (*Command, []string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[method]; ok {
		return cmd, nil, true
	}
	if al, ok := r.aliases[method]; ok {
		if cmd, ok := r.commands[al.Base]; ok {
			return cmd, al.Prefix, true
		}
	}
	return nil, nil, false
}

// Docs returns a name->docs snapshot of every registered command, for a
// "help"-style built-in.
func (r *CommandRegistry) Docs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.commands))
	for name, cmd := range r.commands {
		out[name] = cmd.Docs
	}
	return out
}
