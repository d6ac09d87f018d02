// Command synacorvm loads a Synacor Challenge program image and either
// runs it straight through or drives it under the interactive debugger.
package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"synacorvm/debugger"
	"synacorvm/vm"
)

// Exit codes: 0 clean halt, 1 engine error during execution, 2 I/O error
// loading the binary or attaching the terminal.
const (
	exitOK          = 0
	exitEngineError = 1
	exitIOError     = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "synacorvm: failed to initialize logger:", err)
		return exitIOError
	}
	defer logger.Sync()

	code := exitOK
	root := newRootCmd(logger, &code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if code == exitOK {
			code = exitIOError
		}
	}
	return code
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func newRootCmd(logger *zap.Logger, exitCode *int) *cobra.Command {
	root := &cobra.Command{
		Use:   "synacorvm",
		Short: "A virtual machine and debugger for the Synacor Challenge bytecode",
	}

	root.AddCommand(newRunCmd(logger, exitCode))
	root.AddCommand(newDebugCmd(logger, exitCode))
	return root
}

func loadProgram(path string) (*vm.Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	mem, err := vm.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return mem, nil
}

func newRunCmd(logger *zap.Logger, exitCode *int) *cobra.Command {
	var feedPath string

	cmd := &cobra.Command{
		Use:   "run <binary>",
		Short: "Run a program to completion with stdin/stdout bridged to the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := loadProgram(args[0])
			if err != nil {
				logger.Error("failed to load program", zap.Error(err))
				*exitCode = exitIOError
				return err
			}

			var source vm.Source
			if feedPath != "" {
				feed, err := os.ReadFile(feedPath)
				if err != nil {
					logger.Error("failed to load input feed", zap.Error(err))
					*exitCode = exitIOError
					return err
				}
				buffered := &vm.BufferSource{}
				buffered.Fill(string(feed))
				source = buffered
				logger.Info("feeding input from file", zap.String("feed", feedPath))
			} else {
				source = vm.NewStdinSource(os.Stdin)
			}

			sink := vm.NewStdoutSink(os.Stdout)
			m := vm.NewVM(mem, sink, source, false)

			logger.Info("starting run", zap.String("binary", args[0]))
			if err := m.Run(context.Background(), 0); err != nil {
				logger.Error("engine error", zap.Error(err))
				*exitCode = exitEngineError
				return err
			}
			logger.Info("halted", zap.Uint64("cycles", m.Cycle), zap.String("status", m.Status.String()))
			return nil
		},
	}

	cmd.Flags().StringVar(&feedPath, "input", "", "replay IN prompts from a transcript file instead of the terminal")
	return cmd
}

func newDebugCmd(logger *zap.Logger, exitCode *int) *cobra.Command {
	var breakAddrs []int

	cmd := &cobra.Command{
		Use:   "debug <binary>",
		Short: "Run a program under the interactive step/breakpoint debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := loadProgram(args[0])
			if err != nil {
				logger.Error("failed to load program", zap.Error(err))
				*exitCode = exitIOError
				return err
			}

			sink := &vm.BufferSink{}
			m := vm.NewVM(mem, sink, nil, true)
			ctrl := debugger.NewController(m, sink)
			for _, addr := range breakAddrs {
				ctrl.ToggleBreakpoint(vm.Word(addr))
			}

			model := debugger.NewModel(ctrl)
			logger.Info("starting debugger", zap.String("binary", args[0]))
			program := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				logger.Error("debugger terminal error", zap.Error(err))
				*exitCode = exitIOError
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&breakAddrs, "break", nil, "set an initial breakpoint at ADDR (repeatable)")
	return cmd
}
