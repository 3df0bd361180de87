package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"jsonkv/internal/audit"
	"jsonkv/internal/kv"
	"jsonkv/internal/shell"
)

type cmdEnv struct {
	ctx      context.Context
	store    *kv.Store
	recorder *audit.Recorder
	out      io.Writer
	pretty   bool
}

type command struct {
	usage string
	help  string
	run   func(env *cmdEnv, args []string) error
}

var commands = map[string]command{
	"get":     {usage: "get <key>", help: "print the value of a key", run: runGet},
	"set":     {usage: "set <key> <value>", help: "set a key (value parsed as JSON, else string)", run: runSet},
	"del":     {usage: "del <key>", help: "delete a key", run: runDel},
	"keys":    {usage: "keys", help: "list keys", run: runKeys},
	"all":     {usage: "all", help: "print the whole document", run: runAll},
	"touch":   {usage: "touch", help: "create the file if missing", run: runTouch},
	"destroy": {usage: "destroy", help: "delete the file", run: runDestroy},
	"audit":   {usage: "audit", help: "list recorded flush and purge events", run: runAudit},
	"shell":   {usage: "shell", help: "interactive shell", run: runShell},
}

func commandHelp() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(&b, "  %-20s %s\n", cmd.usage, cmd.help)
	}
	return b.String()
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("%w: jsonkv %s", errUsage, usage)
	}
	return nil
}

func runGet(env *cmdEnv, args []string) error {
	if err := wantArgs(args, 1, "get <key>"); err != nil {
		return err
	}
	v, ok, err := env.store.Get(env.ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: not found", args[0])
	}
	_, err = fmt.Fprintln(env.out, shell.FormatValue(v, env.pretty))
	return err
}

func runSet(env *cmdEnv, args []string) error {
	if err := wantArgs(args, 2, "set <key> <value>"); err != nil {
		return err
	}
	value := shell.ParseValue(strings.Join(args[1:], " "))
	// Persisted by the flush in run's Close, which also emits the audit event.
	return env.store.Set(env.ctx, args[0], value)
}

func runDel(env *cmdEnv, args []string) error {
	if err := wantArgs(args, 1, "del <key>"); err != nil {
		return err
	}
	return env.store.Del(env.ctx, args[0])
}

func runKeys(env *cmdEnv, _ []string) error {
	keys, err := env.store.Keys(env.ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(env.out, k); err != nil {
			return err
		}
	}
	return nil
}

func runAll(env *cmdEnv, _ []string) error {
	doc, err := env.store.All(env.ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, shell.FormatValue(doc, env.pretty))
	return err
}

func runTouch(env *cmdEnv, _ []string) error {
	return env.store.Touch(env.ctx)
}

func runDestroy(env *cmdEnv, _ []string) error {
	return env.store.Destroy(env.ctx)
}

func runAudit(env *cmdEnv, _ []string) error {
	if env.recorder == nil {
		return errors.New("audit log is disabled (set [audit] enabled = true)")
	}
	records, err := env.recorder.List()
	if err != nil {
		return err
	}
	for _, r := range records {
		_, err := fmt.Fprintf(env.out, "%s  %-5s  %s  %s  keys=%d\n",
			r.At.Local().Format(time.RFC3339), r.Kind, r.ID, r.Path, len(r.Document))
		if err != nil {
			return err
		}
	}
	return nil
}

func runShell(env *cmdEnv, _ []string) error {
	return shell.RunStdio(env.ctx, env.store)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && shell.IsTerminal(f)
}
