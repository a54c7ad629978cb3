package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dl/incsearch/internal/matcher"
	"github.com/dl/incsearch/internal/orchestrator"
)

// errQuit ends an interactive session.
var errQuit = errors.New("quit")

// Controller is the part of the orchestrator a session drives.
type Controller interface {
	Params() orchestrator.Params
	SetParams(orchestrator.Params) error
	Stop()
}

// session applies interactive commands, one per line.
type session struct {
	ctl Controller
}

// serve reads commands from r until EOF, quit or ctx ends. Command errors
// are reported through report and do not end the session.
func (s *session) serve(ctx context.Context, r io.Reader, report func(error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			err := s.apply(line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				report(err)
			}
		}
	}
}

// apply executes one command line.
func (s *session) apply(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	p := s.ctl.Params()
	switch cmd {
	case "find":
		p.Find = arg
	case "replace":
		p.Replace = arg
		p.Replacing = true
	case "noreplace":
		p.Replace = ""
		p.Replacing = false
	case "case":
		on, err := parseSwitch(arg)
		if err != nil {
			return err
		}
		p.MatchCase = on
	case "word":
		on, err := parseSwitch(arg)
		if err != nil {
			return err
		}
		p.WholeWord = on
	case "mode":
		m, err := matcher.ParseMode(arg)
		if err != nil {
			return err
		}
		p.Mode = m
	case "include":
		p.Include = arg
	case "exclude":
		p.Exclude = arg
	case "push":
		p.Level++
	case "pop":
		if p.Level == 0 {
			return orchestrator.ErrRootLevel
		}
		p.Level--
	case "pause":
		p.Paused = true
	case "resume":
		p.Paused = false
	case "stop":
		s.ctl.Stop()
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return s.ctl.SetParams(p)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
