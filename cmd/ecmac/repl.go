package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	lru "github.com/hashicorp/golang-lru"
	shellquote "github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/ecmavm/engine/pkg/ast"
	"github.com/ecmavm/engine/pkg/codegen"
	"github.com/ecmavm/engine/pkg/config"
)

// cacheSize bounds the REPL's compiled-routine cache. Re-running the same
// source text (stepping through :run a few times, or :dis after :run) skips
// recompiling it.
const cacheSize = 64

// repl is the interactive front end: readline for input and completion,
// an LRU cache of already-compiled routines keyed by the exact source text
// last handed to :load, and the bounded demo interpreter for :run.
type repl struct {
	log   *zap.Logger
	opts  config.Options
	host  *demoHost
	cache *lru.Cache
	rl    *readline.Instance

	current codegen.Routine
	have    bool
}

var replCompleter = readline.NewPrefixCompleter(
	readline.PcItem(":load"),
	readline.PcItem(":run"),
	readline.PcItem(":dis"),
	readline.PcItem(":help"),
	readline.PcItem(":quit"),
)

func newREPL(log *zap.Logger, opts config.Options) (*repl, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("repl: building cache: %w", err)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "ecma> ",
		AutoComplete: replCompleter,
	})
	if err != nil {
		return nil, fmt.Errorf("repl: creating readline instance: %w", err)
	}
	return &repl{log: log, opts: opts, host: newDemoHost(), cache: cache, rl: rl}, nil
}

// Run drives the read-eval-print loop until EOF or interrupt, following the
// teacher's own cli/vm Run(): read a line, bail cleanly on io.EOF or
// readline.ErrInterrupt, tokenize meta-command arguments with shellquote,
// and report (not panic on) any other error before continuing.
func (r *repl) Run() error {
	defer r.rl.Close() //nolint:errcheck
	fmt.Fprintln(r.rl.Stdout(), "ecmac repl — :help for commands, :quit to exit")
	for {
		line, err := r.rl.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("repl: reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.dispatch(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintln(r.rl.Stderr(), "error:", err)
		}
	}
}

func (r *repl) dispatch(line string) error {
	if !strings.HasPrefix(line, ":") {
		return r.compileSource(line)
	}
	args, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}
	switch args[0] {
	case ":help":
		fmt.Fprintln(r.rl.Stdout(), "commands: :load <file.json>  :run [args...]  :dis  :quit")
		return nil
	case ":quit", ":exit":
		return io.EOF
	case ":load":
		if len(args) < 2 {
			return errors.New("usage: :load <file.json>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return r.compileSource(string(data))
	case ":dis":
		if !r.have {
			return errors.New("nothing compiled yet; :load a program first")
		}
		fmt.Fprint(r.rl.Stdout(), disassemble(r.current, "main"))
		return nil
	case ":run":
		return r.runCurrent(args[1:])
	default:
		return fmt.Errorf("unknown command %q (try :help)", args[0])
	}
}

// compileSource parses src as a program and compiles it, caching the
// result by exact source text so repeated :run/:dis on the same program
// skip recompilation.
func (r *repl) compileSource(src string) error {
	if cached, ok := r.cache.Get(src); ok {
		r.current = cached.(codegen.Routine)
		r.have = true
		fmt.Fprintln(r.rl.Stdout(), "(cached) ok")
		return nil
	}

	program, err := ast.ParseProgram([]byte(src))
	if err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	gen := codegen.New(r.host, r.log, r.opts.Checked)
	routine, err := gen.GenerateCode(program, codegen.OptimizationInfo{StrictMode: program.Strict || r.opts.StrictMode})
	if err != nil {
		return fmt.Errorf("compiling: %w", err)
	}
	r.cache.Add(src, routine)
	r.current = routine
	r.have = true
	fmt.Fprintf(r.rl.Stdout(), "ok (%d bytes, maxstack %d)\n", len(routine.Code), routine.MaxStack)
	return nil
}

// runCurrent executes the last compiled routine with its scope-handle slot
// left nil and each remaining declared argument bound, in order, to the
// given command-line tokens (decimal numbers only — this is a demo
// interpreter, not a number-parsing front end for the whole language).
func (r *repl) runCurrent(rawArgs []string) error {
	if !r.have {
		return errors.New("nothing compiled yet; :load a program first")
	}
	args := make([]interface{}, len(rawArgs)+1) // slot 0 is the scope handle
	for i, a := range rawArgs {
		var f float64
		if _, err := fmt.Sscanf(a, "%g", &f); err != nil {
			return fmt.Errorf("argument %d (%q): %w", i, a, err)
		}
		args[i+1] = f
	}
	result, err := interp(r.current, args, defaultSyscalls())
	if err != nil {
		return err
	}
	fmt.Fprintf(r.rl.Stdout(), "=> %v\n", result)
	return nil
}
