// Package console is the operator surface of the harness: an explicit
// command table constructed at startup and a line-based prompt that drives
// it. The table is only registered when the console is enabled in config;
// nothing here mutates process-wide state.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"alarmdiag/internal/storage"
	logx "alarmdiag/pkg/logx"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQuit           = errors.New("quit")
)

type HandlerFunc func(ctx context.Context, sh *Shell, args []string) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handle      HandlerFunc
}

// Shell is what a running command sees: output plus the interactive
// confirmation prompt.
type Shell struct {
	out io.Writer
	in  *bufio.Scanner
}

func (sh *Shell) Printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

// Confirm prints a y/N prompt and reads one line. Anything but y/yes is a no.
func (sh *Shell) Confirm(prompt string) bool {
	fmt.Fprintf(sh.out, "%s [y/N]: ", prompt)
	if sh.in == nil || !sh.in.Scan() {
		return false
	}
	ans := strings.ToLower(strings.TrimSpace(sh.in.Text()))
	return ans == "y" || ans == "yes"
}

// Registry is the command table. Registration happens once at startup;
// lookups are read-mostly.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
	order  []string

	log   logx.Logger
	audit func(e storage.AuditEntry)
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{byName: map[string]*Command{}, log: log}
}

// SetAudit installs a sink that records every dispatched command.
func (r *Registry) SetAudit(fn func(e storage.AuditEntry)) {
	r.mu.Lock()
	r.audit = fn
	r.mu.Unlock()
}

func (r *Registry) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range cmds {
		c := cmds[i]
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("command name required")
		}
		if _, dup := r.byName[name]; dup {
			return fmt.Errorf("duplicate command: %s", name)
		}
		r.byName[name] = &c
		r.order = append(r.order, name)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if _, dup := r.byName[a]; dup {
				return fmt.Errorf("duplicate alias: %s", a)
			}
			r.byName[a] = &c
		}
	}
	return nil
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[strings.TrimSpace(name)]
	return c, ok
}

// Commands returns the table in registration order (aliases excluded).
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

// Dispatch parses one input line and runs the matched command. Handler
// panics are contained: an interactive harness must not take down its host.
func (r *Registry) Dispatch(ctx context.Context, sh *Shell, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := fields[0]
	args := fields[1:]

	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	start := time.Now()
	err := r.invoke(ctx, cmd, sh, args)

	r.mu.RLock()
	audit := r.audit
	r.mu.RUnlock()
	if audit != nil {
		e := storage.AuditEntry{
			At:     start,
			Action: cmd.Name,
			Target: strings.Join(args, " "),
			OK:     err == nil || errors.Is(err, ErrQuit),
			TookMS: time.Since(start).Milliseconds(),
		}
		if err != nil && !errors.Is(err, ErrQuit) {
			e.Error = err.Error()
		}
		audit(e)
	}
	return err
}

func (r *Registry) invoke(ctx context.Context, cmd *Command, sh *Shell, args []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in console command",
				logx.String("command", cmd.Name), logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("command %s panicked: %v", cmd.Name, rec)
		}
	}()
	return cmd.Handle(ctx, sh, args)
}

// REPL reads command lines until EOF, quit, or context cancellation.
type REPL struct {
	reg *Registry
	in  io.Reader
	out io.Writer
	log logx.Logger
}

func NewREPL(reg *Registry, in io.Reader, out io.Writer, log logx.Logger) *REPL {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &REPL{reg: reg, in: in, out: out, log: log}
}

func (r *REPL) Run(ctx context.Context) error {
	sc := bufio.NewScanner(r.in)
	sh := &Shell{out: r.out, in: sc}

	fmt.Fprintln(r.out, "alarmdiag console; type 'help' for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		err := r.reg.Dispatch(ctx, sh, sc.Text())
		switch {
		case err == nil:
		case errors.Is(err, ErrQuit):
			return nil
		case errors.Is(err, ErrUnknownCommand):
			fmt.Fprintf(r.out, "%v (try 'help')\n", err)
		default:
			fmt.Fprintf(r.out, "FAILED: %v\n", err)
		}
	}
}

// helpText renders the table, one command per line, sorted by name.
func helpText(reg *Registry) string {
	cmds := reg.Commands()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	for _, c := range cmds {
		usage := c.Name
		if c.Usage != "" {
			usage = c.Usage
		}
		fmt.Fprintf(&b, "  %-24s %s\n", usage, c.Description)
	}
	return b.String()
}
