// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"smplc/internal/diag"
	"smplc/internal/dot"
	"smplc/internal/ir"
	"smplc/internal/lexer"
	"smplc/internal/parser"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: smplc <file.smpl>")
		os.Exit(1)
	}

	path := os.Args[1]
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("Failed to read file: %s", err)
		os.Exit(1)
	}

	if exitCode := run(path, string(source)); exitCode != 0 {
		os.Exit(exitCode)
	}
}

func run(path, source string) int {
	tokens, err := lexer.All(path, source)
	if err != nil {
		color.Red("❌ Lexing failed: %s", err)
		return 1
	}

	p := parser.New(path, tokens)
	cfg := p.Parse()

	reporter := diag.NewReporter(path, source)
	for _, d := range p.Diagnostics() {
		fmt.Print(reporter.Format(d))
	}

	fmt.Println("Trace:")
	printTrace(cfg)

	fmt.Println("\nCFG (DOT):")
	fmt.Println(dot.Generate(cfg))

	if p.Errored() {
		color.Red("❌ Failed to compile %s", path)
		return 1
	}

	color.Green("✅ Successfully compiled %s", path)
	return 0
}

// printTrace walks the CFG in traversal order and lists every block's
// instructions, the same order the DOT numbering uses -- a plain-text
// companion to the record graph for terminals that don't render DOT.
func printTrace(cfg *ir.CFG) {
	num := 0
	cfg.Walk(func(b *ir.Block) bool {
		fmt.Printf("BB%d (%s):\n", num, b.Type)
		for _, id := range b.Instructions {
			in, err := cfg.FindInstruction(id)
			if err != nil {
				continue
			}
			fmt.Printf("  %s\n", in.String())
		}
		num++
		return true
	})
}
