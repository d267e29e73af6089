package cli

import (
	"github.com/spf13/pflag"

	"chdocs/internal/domain"
)

// modeFlag is a --mode value checked when the flag is parsed.
type modeFlag struct {
	mode domain.PropagationMode
}

var _ pflag.Value = (*modeFlag)(nil)

func (f *modeFlag) String() string { return string(f.mode) }

func (f *modeFlag) Set(s string) error {
	m, err := domain.ParsePropagationMode(s)
	if err != nil {
		return err
	}
	f.mode = m
	return nil
}

func (f *modeFlag) Type() string { return "mode" }
