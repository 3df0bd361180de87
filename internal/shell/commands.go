package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"jsonkv/internal/kv"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Ctx   context.Context
	Out   io.Writer
	Store *kv.Store
	Args  []string
}

// CommandHandler runs a shell command. Returns true if the shell should exit.
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered shell command.
type Command struct {
	Usage   string // full usage for help (e.g., "/get <key>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistry maps command names to handlers and produces help text in
// registration order. Once frozen, no new commands can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command. The name includes the leading slash. Registering
// a name twice overwrites the earlier entry. Panics if cmd.Handler is nil or
// the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("shell: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("shell: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further registration. Run calls it before reading input.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler. A missing
// leading slash is added. Returns true if the shell should exit.
func (r *CommandRegistry) Dispatch(ctx context.Context, line string, out io.Writer, st *kv.Store) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try /help)\n", name)
		return false
	}

	return cmd.Handler(CommandContext{
		Ctx:   ctx,
		Out:   out,
		Store: st,
		Args:  parts[1:],
	})
}

// HelpText lists all registered commands in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-18s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /help and /quit.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Out, r.HelpText())
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "leave the shell",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Out, "Bye.")
			return true
		},
	})
}

// RegisterStoreCommands registers the key-value commands.
func (r *CommandRegistry) RegisterStoreCommands() {
	r.Register("/get", Command{
		Usage:   "/get <key>",
		Help:    "print the value of a key",
		Handler: handleGet,
	})
	r.Register("/set", Command{
		Usage:   "/set <key> <value>",
		Help:    "set a key (value parsed as JSON, else string)",
		Handler: handleSet,
	})
	r.Register("/del", Command{
		Usage:   "/del <key>",
		Help:    "delete a key",
		Handler: handleDel,
	})
	r.Register("/keys", Command{
		Help:    "list keys",
		Handler: handleKeys,
	})
	r.Register("/all", Command{
		Help:    "print the whole document",
		Handler: handleAll,
	})
	r.Register("/commit", Command{
		Help:    "flush pending changes to disk",
		Handler: handleCommit,
	})
	r.Register("/purge", Command{
		Help:    "delete the file and all keys",
		Handler: handlePurge,
	})
	r.Register("/reload", Command{
		Help:    "drop the cache and re-read the file",
		Handler: handleReload,
	})
}

func handleGet(ctx CommandContext) bool {
	if len(ctx.Args) == 0 {
		_, _ = fmt.Fprintln(ctx.Out, "Usage: /get <key>")
		return false
	}
	v, ok, err := ctx.Store.Get(ctx.Ctx, ctx.Args[0])
	switch {
	case err != nil:
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
	case !ok:
		_, _ = fmt.Fprintf(ctx.Out, "%s: not found\n", ctx.Args[0])
	default:
		_, _ = fmt.Fprintln(ctx.Out, FormatValue(v, false))
	}
	return false
}

func handleSet(ctx CommandContext) bool {
	if len(ctx.Args) < 2 {
		_, _ = fmt.Fprintln(ctx.Out, "Usage: /set <key> <value>")
		return false
	}
	key := ctx.Args[0]
	value := ParseValue(strings.Join(ctx.Args[1:], " "))
	if err := ctx.Store.Set(ctx.Ctx, key, value); err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Out, "Set %s = %s\n", key, FormatValue(value, false))
	return false
}

func handleDel(ctx CommandContext) bool {
	if len(ctx.Args) == 0 {
		_, _ = fmt.Fprintln(ctx.Out, "Usage: /del <key>")
		return false
	}
	if err := ctx.Store.Del(ctx.Ctx, ctx.Args[0]); err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintf(ctx.Out, "Deleted %s\n", ctx.Args[0])
	return false
}

func handleKeys(ctx CommandContext) bool {
	keys, err := ctx.Store.Keys(ctx.Ctx)
	if err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(ctx.Out, "(empty)")
		return false
	}
	for _, k := range keys {
		_, _ = fmt.Fprintln(ctx.Out, k)
	}
	return false
}

func handleAll(ctx CommandContext) bool {
	doc, err := ctx.Store.All(ctx.Ctx)
	if err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintln(ctx.Out, FormatValue(doc, true))
	return false
}

func handleCommit(ctx CommandContext) bool {
	if err := ctx.Store.Commit(ctx.Ctx); err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintln(ctx.Out, "Committed.")
	return false
}

func handlePurge(ctx CommandContext) bool {
	if err := ctx.Store.Destroy(ctx.Ctx); err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintln(ctx.Out, "Purged.")
	return false
}

func handleReload(ctx CommandContext) bool {
	discarded, err := ctx.Store.Reload(ctx.Ctx)
	if err != nil {
		_, _ = fmt.Fprintf(ctx.Out, "Error: %v\n", err)
		return false
	}
	if discarded {
		_, _ = fmt.Fprintln(ctx.Out, "Uncommitted changes discarded.")
	}
	_, _ = fmt.Fprintln(ctx.Out, "Cache dropped.")
	return false
}

// ParseValue decodes s as JSON, falling back to the raw string.
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// FormatValue renders v as JSON; strings print bare unless pretty is set.
func FormatValue(v any, pretty bool) string {
	if s, ok := v.(string); ok && !pretty {
		return s
	}
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
