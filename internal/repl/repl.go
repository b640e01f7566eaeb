// Package repl drives the interactive session: one persistent VM, so
// globals and classes defined on earlier lines stay visible.
package repl

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"ember/internal/vm"
)

// Start reads lines from stdin and interprets each one. The prompt is
// only printed when stdin is a terminal, so piped sessions stay clean.
func Start(machine *vm.VM) {
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Println()
			}
			break
		}
		line := scanner.Text()
		if line == "exit" {
			break
		}
		machine.Interpret(line)
	}
}
