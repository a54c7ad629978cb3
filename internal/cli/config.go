package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/dl/incsearch/internal/matcher"
	"github.com/dl/incsearch/internal/orchestrator"
)

// Config holds the per-invocation options taken from the command line.
// Tunables shared with the config file live in config.Settings.
type Config struct {
	Pattern     string
	Roots       []string
	Regex       bool
	Transform   bool
	MatchCase   bool
	WholeWord   bool
	Include     string
	Exclude     string
	Replace     string
	Replacing   bool
	Watch       bool
	Interactive bool
}

// Validate checks that the config is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Pattern == "" && !c.Interactive {
		return fmt.Errorf("no pattern specified")
	}
	if c.Regex && c.Transform {
		return fmt.Errorf("cannot use -e (regex) and --transform together")
	}
	if c.WholeWord && c.Transform {
		return fmt.Errorf("cannot use -w (word) with --transform")
	}
	return nil
}

// Mode returns the search mode selected by the flags.
func (c *Config) Mode() matcher.Mode {
	switch {
	case c.Regex:
		return matcher.ModeRegex
	case c.Transform:
		return matcher.ModeTransform
	}
	return matcher.ModeText
}

// Params returns the initial orchestrator parameters. In transform mode a
// pattern or replacement of the form @path is read from that file.
func (c *Config) Params() (orchestrator.Params, error) {
	p := orchestrator.Params{
		Find:      c.Pattern,
		Replace:   c.Replace,
		Replacing: c.Replacing,
		MatchCase: c.MatchCase,
		WholeWord: c.WholeWord,
		Include:   c.Include,
		Exclude:   c.Exclude,
		Mode:      c.Mode(),
	}
	if p.Mode != matcher.ModeTransform {
		return p, nil
	}

	var err error
	if p.Find, err = scriptArg(p.Find); err != nil {
		return p, err
	}
	if p.Replacing {
		if p.Replace, err = scriptArg(p.Replace); err != nil {
			return p, err
		}
	}
	return p, nil
}

func scriptArg(s string) (string, error) {
	path, ok := strings.CutPrefix(s, "@")
	if !ok {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}
