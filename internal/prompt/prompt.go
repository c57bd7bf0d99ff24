// Package prompt collects the node name, region and image from the operator.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

// ErrAborted is returned when the operator cancels the form.
var ErrAborted = errors.New("prompt aborted")

// Prompter fills in a node spec. Fields left empty are defaulted later.
type Prompter interface {
	Ask(ctx context.Context, spec api.NodeSpec, d prov.Defaults) (api.NodeSpec, error)
}

// Form asks with huh. In accessible mode each answer is read as one line
// from In, which makes the form usable from pipes and scripts.
type Form struct {
	In         io.Reader
	Out        io.Writer
	Accessible bool
}

// NewForm picks the full-screen form when both ends are terminals.
func NewForm(in, out *os.File) *Form {
	return &Form{In: in, Out: out, Accessible: !IsTerminal(in) || !IsTerminal(out)}
}

func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Ask shows three inputs pre-filled from spec, each titled with the default
// that applies when it is left empty.
func (f *Form) Ask(ctx context.Context, spec api.NodeSpec, d prov.Defaults) (api.NodeSpec, error) {
	out := spec
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(titled("Node name", "node-<uuid>")).
				Placeholder("node-<uuid>").
				Value(&out.Name),
			huh.NewInput().
				Title(titled("Region", d.Region)).
				Placeholder(d.Region).
				Value(&out.Region),
			huh.NewInput().
				Title(titled("Image", d.Image)).
				Placeholder(d.Image).
				Value(&out.Image),
		).Title("New node"),
	)
	if f.Accessible {
		form = form.WithAccessible(true)
	}
	if f.In != nil {
		in := f.In
		if f.Accessible {
			in = &lineReader{br: bufio.NewReader(f.In)}
		}
		form = form.WithInput(in)
	}
	if f.Out != nil {
		form = form.WithOutput(f.Out)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return spec, ErrAborted
		}
		return spec, fmt.Errorf("prompt: %w", err)
	}
	return out, nil
}

func titled(label, def string) string {
	return fmt.Sprintf("%s (default %s)", label, def)
}

// lineReader hands out at most one line per Read so each accessible field,
// which scans with its own bufio.Scanner, consumes only its own answer.
type lineReader struct {
	br      *bufio.Reader
	pending []byte
}

func (l *lineReader) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		line, err := l.br.ReadBytes('\n')
		if len(line) == 0 {
			return 0, err
		}
		l.pending = line
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

// Static answers without asking; it backs --yes.
type Static struct{}

func (Static) Ask(_ context.Context, spec api.NodeSpec, _ prov.Defaults) (api.NodeSpec, error) {
	return spec, nil
}
