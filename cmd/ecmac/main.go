package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ecmavm/engine/pkg/ast"
	"github.com/ecmavm/engine/pkg/codegen"
	"github.com/ecmavm/engine/pkg/config"
)

const verboseFlagName = "verbose"

func main() {
	app := cli.NewApp()
	app.Name = "ecmac"
	app.HelpName = ""
	app.UsageText = ""
	app.Usage = "compile, disassemble and run method-generator bytecode"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: verboseFlagName, Usage: "enable debug logging"},
		cli.StringFlag{Name: "config", Usage: "path to a YAML options file"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "compile",
			Usage:     "compile a program (JSON AST) to a .ecb container",
			UsageText: "ecmac compile <program.json> [out.ecb]",
			Action:    handleCompile,
		},
		{
			Name:      "disasm",
			Usage:     "disassemble a .ecb container",
			UsageText: "ecmac disasm <routine.ecb>",
			Action:    handleDisasm,
		},
		{
			Name:      "repl",
			Usage:     "interactively compile and run programs",
			UsageText: "ecmac repl",
			Action:    handleRepl,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogger mirrors the teacher's CLI: verbose logging is opt-in, and
// when it's off only warnings and above reach the console.
func buildLogger(c *cli.Context) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !c.GlobalBool(verboseFlagName) {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// loadOptions reads --config if given, else the reference defaults.
func loadOptions(c *cli.Context) (config.Options, error) {
	if path := c.GlobalString("config"); path != "" {
		return config.Load(path)
	}
	return config.DefaultOptions(), nil
}

func handleCompile(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: ecmac compile <program.json> [out.ecb]", 1)
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	program, err := ast.ParseProgram(data)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("parsing program: %w", err), 1)
	}

	opts, err := loadOptions(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log := buildLogger(c)
	defer log.Sync() //nolint:errcheck

	gen := codegen.New(newDemoHost(), log, opts.Checked)
	routine, err := gen.GenerateCode(program, codegen.OptimizationInfo{StrictMode: program.Strict || opts.StrictMode})
	if err != nil {
		return cli.NewExitError(fmt.Errorf("compiling: %w", err), 1)
	}

	out := "a.ecb"
	if c.NArg() >= 2 {
		out = c.Args().Get(1)
	}
	if err := os.WriteFile(out, writeECB(routine), 0o644); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s (%d bytes of code, %d closures)\n", out, len(routine.Code), len(routine.Closures))
	return nil
}

func handleDisasm(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: ecmac disasm <routine.ecb>", 1)
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	routine, err := readECB(data)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprint(c.App.Writer, disassemble(routine, "main"))
	return nil
}

func handleRepl(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log := buildLogger(c)
	defer log.Sync() //nolint:errcheck

	r, err := newREPL(log, opts)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	return r.Run()
}
