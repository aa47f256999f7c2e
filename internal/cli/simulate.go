package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/internal/scenario"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/embedmem/tagmem/trace"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

// ErrTerminated is wrapped by the error returned when a scenario ends in a fatal escalation
var ErrTerminated = errors.New("scenario terminated")

type simulateOptions struct {
	breakdown bool
}

// NewSimulateCommand creates the simulate command, which replays a scenario file and reports on the
// allocator afterwards
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Replay an allocation scenario",
		Long: `Replay an allocation scenario against a simulated heap and print the resulting usage report.

A strict step that exhausts the heap ends the run with the crash code it would have raised.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.breakdown, "breakdown", false, "include the per-category breakdown in the text report")

	return cmd
}

func newTraceTransport(verbose bool, errOut io.Writer) trace.Transport {
	logger := logrus.New()
	logger.Out = errOut
	logger.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return trace.NewLogrusTransport(logger)
}

func newLogger(verbose bool, errOut io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(errOut))
}

func runSimulate(rootOpts *RootOptions, opts *simulateOptions, path string, out, errOut io.Writer) error {
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}

	logger := newLogger(rootOpts.Verbose, errOut)
	result, err := scenario.Run(logger, s, newTraceTransport(rootOpts.Verbose, errOut))
	if err != nil {
		if result != nil {
			_ = result.Allocator.Destroy()
		}
		return err
	}
	defer func() {
		if err := result.Allocator.Destroy(); err != nil {
			logger.Debug("scenario left live allocations", slog.String("error", err.Error()))
		}
	}()

	if rootOpts.Verbose {
		for i, step := range result.Steps {
			fmt.Fprintf(errOut, "step %d: %s %s -> %s\n", i+1, step.Step.Op, step.Step.ID, step.Outcome)
		}
	}

	if rootOpts.Format == "json" {
		_, err = fmt.Fprintln(out, result.Allocator.BuildStatsString(opts.breakdown))
	} else {
		err = writeTextReport(out, s, result, opts.breakdown)
	}
	if err != nil {
		return err
	}

	if result.Fatal != nil {
		return errors.Wrapf(ErrTerminated, "crash code 0x%X (%s) at %s line %d",
			uint32(result.Fatal.Code), result.Fatal.Code, result.Fatal.File, result.Fatal.Line)
	}
	return nil
}

func writeTextReport(out io.Writer, s *scenario.Scenario, result *scenario.Result, breakdown bool) error {
	name := s.Name
	if name == "" {
		name = "scenario"
	}

	_, err := fmt.Fprintf(out, "%s: %d of %d steps run, heap limit %s, budget %s\n",
		name, len(result.Steps), len(s.Steps), s.HeapLimit, s.Budget)
	if err != nil {
		return err
	}

	result.Allocator.RenderUsageReport(breakdown, false, tagmem.TextSinkFunc(func(line string) {
		// Sanitized lines are meant for a format-string log; print them as that log would
		if err == nil {
			_, err = fmt.Fprintln(out, trace.Unescape(line))
		}
	}))

	return err
}

// Execute runs the root command and maps a fatal scenario to a non-zero exit status
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
