package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dl/incsearch/internal/config"
)

// exitError carries an exit code out of cobra's RunE.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// NewRootCmd creates the incsearch command.
func NewRootCmd(streams IO) *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "incsearch [flags] PATTERN [ROOT...]",
		Short: "Incremental search and replace across a file tree",
		Long: `incsearch searches the files under the given roots (default: the
current directory) for PATTERN as literal text, a PCRE regular expression
(-e) or a JavaScript transform (--transform).

With --interactive, commands read from stdin refine the search as you
type: narrowing a query reuses the previous results instead of scanning
again, and "push" searches within the files the last search matched.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cfg.Interactive {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.Pattern, cfg.Roots = args[0], args[1:]
			}
			cfg.Replacing = cmd.Flags().Changed("replace")

			s, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			if code := Run(cmd.Context(), cfg, s, streams); code != ExitMatch {
				return &exitError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&cfg.Regex, "regex", "e", false, "Treat PATTERN as a PCRE regular expression; $N selects capture group N")
	f.BoolVar(&cfg.Transform, "transform", false, "Treat PATTERN as a JavaScript function (source, path) => ranges; @file reads it from file")
	f.BoolVarP(&cfg.MatchCase, "case-sensitive", "s", false, "Match case")
	f.BoolVarP(&cfg.WholeWord, "word", "w", false, "Match whole words only")
	f.StringVar(&cfg.Include, "include", "", "Comma-separated globs of files to search")
	f.StringVar(&cfg.Exclude, "exclude", "", "Comma-separated globs of files to skip")
	f.StringVar(&cfg.Replace, "replace", "", "Preview replacing every match with this text (a JavaScript function in transform mode)")
	f.BoolVar(&cfg.Watch, "watch", false, "Keep running and search again when files change")
	f.BoolVarP(&cfg.Interactive, "interactive", "i", false, "Read search commands from stdin")

	f.Bool("json", false, "Write results as JSON lines")
	f.String("color", config.ColorAuto, "When to color output: auto, always or never")
	f.Bool("hidden", false, "Search hidden files and directories")
	f.Bool("no-ignore", false, "Do not respect .gitignore files")
	f.String("log-level", "warn", "Log level: debug, info, warn, error")

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd(IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "incsearch:", err)
		return ExitError
	}
	return ExitMatch
}
