// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Command luasafe is the reference host shell: it loads a script (or
// drops into a line-editing REPL), wires a sandboxed host.Globals with
// configurable resource ceilings, runs the script, and reports
// instruction/memory accounting. It is a demonstration embedding, not
// part of the sandbox's own API surface.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/naoina/toml"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"golang.org/x/crypto/sha3"
	"gopkg.in/urfave/cli.v1"

	"github.com/probe-lang/luasafe/compiler"
	"github.com/probe-lang/luasafe/host"
	"github.com/probe-lang/luasafe/log"
	"github.com/probe-lang/luasafe/value"
)

// shellConfig is the optional TOML file read via --config, overriding
// host.DefaultConfig's ceilings and a couple of shell-only options.
type shellConfig struct {
	MaxInstructions uint64 `toml:"max_instructions"`
	MaxMemoryBytes  uint64 `toml:"max_memory_bytes"`
	HistoryFile     string `toml:"history_file"`
}

func loadShellConfig(path string) (shellConfig, error) {
	cfg := shellConfig{HistoryFile: ".luasafe_history"}
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func newGlobals(cfg shellConfig) *host.Globals {
	hcfg := host.DefaultConfig()
	if cfg.MaxInstructions > 0 {
		hcfg.DefaultInstrMax = cfg.MaxInstructions
	}
	g := host.New(compiler.New(), hcfg)
	registerSample(g)
	return g
}

// registerSample installs hash.sha3, a small demonstration of wiring an
// external Go library into the accounted builtin surface (§4.9 of
// SPEC_FULL.md): every call costs exactly one instruction charge, same
// as the rest of the curated standard surface.
func registerSample(g *host.Globals) {
	g.RegisterModule("hash", map[string]func([]value.Value) ([]value.Value, error){
		"sha3": func(args []value.Value) ([]value.Value, error) {
			var in string
			if len(args) > 0 {
				if s, ok := args[0].(*value.Str); ok {
					in = s.GoString()
				}
			}
			sum := sha3.Sum256([]byte(in))
			return []value.Value{value.NewStringFromGo(hex.EncodeToString(sum[:]))}, nil
		},
	})
}

func runScript(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.NewExitError("luasafe run: missing script path", 1)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	cfg, err := loadShellConfig(ctx.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if n := ctx.Uint64("max-instructions"); n > 0 {
		cfg.MaxInstructions = n
	}

	g := newGlobals(cfg)
	log.Info("script loaded", "path", path, "bytes", len(src))

	closure, err := g.Load(src, path)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("compile error: %v", err), 1)
	}

	_, runErr := g.Call(closure, nil)
	for _, line := range g.Console().Drain() {
		fmt.Println(line)
	}

	used := g.UsedMemory()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"used_memory_bytes", fmt.Sprintf("%d", used)})
	if cfg.MaxMemoryBytes > 0 && used > cfg.MaxMemoryBytes {
		table.Append([]string{"memory_ceiling", fmt.Sprintf("exceeded (%d > %d)", used, cfg.MaxMemoryBytes)})
	}
	if runErr != nil {
		table.Append([]string{"result", "error: " + runErr.Error()})
	} else {
		table.Append([]string{"result", "ok"})
	}
	table.Render()

	log.Info("run finished", "path", path, "error", runErr)
	if runErr != nil {
		return cli.NewExitError(runErr.Error(), 1)
	}
	return nil
}

func runRepl(ctx *cli.Context) error {
	cfg, err := loadShellConfig(ctx.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	g := newGlobals(cfg)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	if f, err := os.Open(cfg.HistoryFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("luasafe repl — each line is compiled and run against a shared global table")
	for {
		text, err := line.Prompt("> ")
		if err != nil {
			break
		}
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		closure, cerr := g.Load([]byte(text), "=stdin")
		if cerr != nil {
			fmt.Println("compile error:", cerr)
			continue
		}
		results, rerr := g.Call(closure, nil)
		for _, l := range g.Console().Drain() {
			fmt.Println(l)
		}
		if rerr != nil {
			fmt.Println("error:", rerr)
			continue
		}
		for _, r := range results {
			fmt.Println(value.ToString(r))
		}
	}

	if f, err := os.Create(cfg.HistoryFile); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "luasafe"
	app.Usage = "run or explore sandboxed scripts"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a TOML shell config file"},
	}
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "compile and run a script file under the sandbox",
			ArgsUsage: "<script.lua>",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "max-instructions", Usage: "override the instruction budget"},
			},
			Action: runScript,
		},
		{
			Name:   "repl",
			Usage:  "interactive line-editing shell over a shared global table",
			Action: runRepl,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
