package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/dl/incsearch/internal/config"
	"github.com/dl/incsearch/internal/engine"
	"github.com/dl/incsearch/internal/input"
	"github.com/dl/incsearch/internal/orchestrator"
	"github.com/dl/incsearch/internal/output"
	"github.com/dl/incsearch/internal/transform"
	"github.com/dl/incsearch/internal/walker"
	"github.com/dl/incsearch/internal/watch"
)

// Exit codes.
const (
	ExitMatch   = 0
	ExitNoMatch = 1
	ExitError   = 2
)

// IO bundles the streams a run uses.
type IO struct {
	In  io.Reader
	Out *os.File
	Err io.Writer
}

// host wires the collaborators of one invocation.
type host struct {
	cfg      Config
	settings *config.Settings
	logger   *log.Logger
	reader   *input.FileReader
	enum     *walker.Enumerator
	sink     *output.StreamSink
	orch     *orchestrator.Orchestrator
}

// Run executes the search with the given config.
// Returns exit code: 0 = match found, 1 = no match, 2 = error.
func Run(ctx context.Context, cfg Config, s *config.Settings, streams IO) int {
	logger := log.NewWithOptions(streams.Err, log.Options{Level: s.Level()})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid arguments", "err", err)
		return ExitError
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Error("invalid arguments", "err", err)
		return ExitError
	}

	h, err := newHost(cfg, s, logger, streams.Out)
	if err != nil {
		logger.Error("setup failed", "err", err)
		return ExitError
	}
	defer h.orch.Close()

	if cfg.Interactive {
		return h.interactive(ctx, params, streams)
	}
	return h.oneShot(ctx, params)
}

func newHost(cfg Config, s *config.Settings, logger *log.Logger, out *os.File) (*host, error) {
	reader, err := input.New(input.Options{
		MmapThreshold:    s.Reader.MmapThreshold,
		DocumentCache:    s.Reader.DocumentCache,
		FingerprintCache: s.Reader.FingerprintCache,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	var formatter output.Formatter
	if s.Output.JSON {
		formatter = output.NewJSONFormatter(cfg.Replacing)
	} else {
		formatter = output.NewTextFormatter(output.StylesFor(out, s.Output.Color), cfg.Interactive || cfg.Watch)
	}
	sink := output.NewStreamSink(output.NewWriter(out), formatter)

	enum := walker.New(walker.Options{
		Roots:    cfg.Roots,
		Hidden:   s.Walker.Hidden,
		NoIgnore: s.Walker.NoIgnore,
		Logger:   logger,
	})

	orch := orchestrator.New(enum, reader, sink, orchestrator.Options{
		RunDebounce:     s.Debounce.Run,
		RestartDebounce: s.Debounce.Restart,
		CacheSize:       s.Cache.MaxNodes,
		Engine: engine.Options{
			MaxWorkers:      s.Engine.MaxWorkers,
			GroupSize:       s.Engine.GroupSize,
			FileConcurrency: s.Engine.FileConcurrency,
			ChunkThreshold:  s.Engine.ChunkThreshold,
			ChunkSize:       s.Engine.ChunkSize,
			ChunkOverlap:    s.Engine.ChunkOverlap,
			YieldEvery:      s.Engine.YieldEvery,
			ProgressEvery:   s.Engine.ProgressEvery,
		},
		TransformConfig: s.Transform.Config,
		NewTransformer: func() (orchestrator.Transformer, error) {
			return transform.New(reader, transform.Options{
				Workers: s.Transform.Workers,
				Timeout: s.Transform.Timeout,
				Logger:  logger,
			})
		},
		Logger: logger,
	})

	return &host{cfg: cfg, settings: s, logger: logger, reader: reader, enum: enum, sink: sink, orch: orch}, nil
}

// oneShot runs the search once, then keeps re-running on file changes in
// watch mode until ctx ends.
func (h *host) oneShot(ctx context.Context, p orchestrator.Params) int {
	if err := h.orch.SetParams(p); err != nil {
		h.logger.Error("invalid parameters", "err", err)
		return ExitError
	}
	state := h.orch.RunNow()
	h.flush()
	if state == orchestrator.Error {
		return ExitError
	}

	if h.cfg.Watch {
		if err := h.watch(ctx); err != nil {
			h.logger.Error("watch failed", "err", err)
			return ExitError
		}
	}
	return h.exitCode()
}

// interactive applies commands from stdin, optionally watching files.
func (h *host) interactive(ctx context.Context, p orchestrator.Params, streams IO) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	if h.cfg.Watch {
		go func() { watchErr <- h.watch(ctx) }()
	} else {
		close(watchErr)
	}

	if p.Find != "" {
		if err := h.orch.SetParams(p); err != nil {
			h.logger.Error("invalid parameters", "err", err)
			return ExitError
		}
	}

	s := &session{ctl: h.orch}
	err := s.serve(ctx, streams.In, func(err error) {
		h.logger.Error("command failed", "err", err)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("reading commands", "err", err)
	}

	_ = h.orch.Wait(ctx)
	cancel()
	if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("watch failed", "err", err)
		return ExitError
	}
	h.flush()
	return h.exitCode()
}

// watch invalidates changed files until ctx ends. Modifications that
// leave the content unchanged are ignored.
func (h *host) watch(ctx context.Context) error {
	w, err := watch.New(watch.Options{
		Roots:  h.enum.Roots(),
		Hidden: h.settings.Walker.Hidden,
		Logger: h.logger,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Err != nil {
				h.logger.Warn("watch error", "err", ev.Err)
				continue
			}
			if ev.Type == watch.EventModified {
				changed, err := h.reader.Changed(ev.Path)
				if err == nil && !changed {
					continue
				}
			}
			h.logger.Debug("file changed", "path", ev.Path, "type", ev.Type)
			h.orch.InvalidateFile(ev.Path)
		}
	}
}

func (h *host) flush() {
	if err := h.sink.Flush(); err != nil {
		h.logger.Error("writing output", "err", err)
	}
}

func (h *host) exitCode() int {
	if h.sink.Matched() {
		return ExitMatch
	}
	return ExitNoMatch
}
