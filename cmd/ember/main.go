package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"ember/internal/buildutil"
	"ember/internal/compiler"
	"ember/internal/config"
	"ember/internal/debug"
	"ember/internal/memory"
	"ember/internal/repl"
	"ember/internal/vm"
)

// Exit codes follow the sysexits convention the interpreter has always
// used: 64 usage, 65 compile error, 70 runtime error, 74 I/O failure.
const (
	exitOK      = 0
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

var (
	flagConfig   string
	flagGCStress bool
	flagTrace    bool
	flagVerbose  int
)

var rootCmd = &cobra.Command{
	Use:   "ember [script]",
	Short: "The ember interpreter",
	Long:  "Ember is a small dynamically typed scripting language with structured concurrency.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return fmt.Errorf("usage: ember [script]")
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		machine := bootVM()
		if len(args) == 0 {
			repl.Start(machine)
			return
		}
		runFile(machine, args[0])
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <script>",
	Short: "Compile a script without running it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		heap := memory.NewHeap()
		if _, err := compiler.Compile(readSource(args[0]), heap, os.Stderr); err != nil {
			os.Exit(exitCompile)
		}
		fmt.Printf("%s: ok\n", args[0])
	},
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <script>",
	Short: "Compile a script and print its bytecode",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		heap := memory.NewHeap()
		fn, err := compiler.Compile(readSource(args[0]), heap, os.Stderr)
		if err != nil {
			os.Exit(exitCompile)
		}
		debug.DisassembleChunk(os.Stdout, fn.Chunk, "script")
	},
}

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build <script>",
	Short: "Compile a script to a chunk image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		heap := memory.NewHeap()
		fn, err := compiler.Compile(readSource(args[0]), heap, os.Stderr)
		if err != nil {
			os.Exit(exitCompile)
		}
		out := buildOutput
		if out == "" {
			out = strings.TrimSuffix(args[0], ".em") + ".emc"
		}
		if err := buildutil.WriteFile(out, fn); err != nil {
			fail(exitIO, "Could not write %q: %s", out, err)
		}
		fmt.Printf("wrote %s\n", out)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <image>",
	Short: "Run a compiled chunk image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		machine := bootVM()
		fn, err := buildutil.ReadFile(args[0], machine.Heap())
		if err != nil {
			fail(exitIO, "Could not load %q: %s", args[0], err)
		}
		os.Exit(resultCode(machine.RunFunction(fn)))
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "ember.toml", "runtime configuration file")
	rootCmd.PersistentFlags().BoolVar(&flagGCStress, "gc-stress", false, "collect on every growing allocation")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "trace instruction execution")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(execCmd)
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "image output path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("%s", err))
		os.Exit(exitUsage)
	}
}

func bootVM() *vm.VM {
	commonlog.Configure(flagVerbose, nil)
	cfg, err := config.Load(flagConfig)
	if err != nil {
		fail(exitUsage, "Bad configuration: %s", err)
	}
	cfg.GC.Stress = cfg.GC.Stress || flagGCStress
	cfg.VM.Trace = cfg.VM.Trace || flagTrace
	return vm.NewDispatcher(cfg).Main()
}

func runFile(machine *vm.VM, path string) {
	os.Exit(resultCode(machine.Interpret(readSource(path))))
}

func readSource(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		fail(exitIO, "Could not open file %q.", path)
	}
	return string(data)
}

func resultCode(result vm.InterpretResult) int {
	switch result {
	case vm.InterpretCompileError:
		return exitCompile
	case vm.InterpretRuntimeError:
		return exitRuntime
	default:
		return exitOK
	}
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
	os.Exit(code)
}
