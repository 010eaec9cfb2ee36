package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	tea "github.com/charmbracelet/bubbletea"
)

// Work runs the lifecycle and returns its final state. It must return once
// ctx is canceled.
type Work func(ctx context.Context) (lifecycle.State, error)

// Program wires lifecycle observers into a bubbletea program.
type Program struct {
	prog   *tea.Program
	cancel context.CancelFunc
}

// NewProgram creates a program titled title.
func NewProgram(title string, opts ...tea.ProgramOption) *Program {
	p := &Program{}
	m := NewModel(title, func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.prog = tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	return p
}

// Observe forwards a transition to the view. It has the signature of a
// lifecycle observer.
func (p *Program) Observe(state lifecycle.State) {
	p.prog.Send(StateMsg{State: state})
}

// Run shows the view while work runs. Detaching cancels work's context.
// The returned state is work's result.
func (p *Program) Run(ctx context.Context, work Work) (lifecycle.State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	type outcome struct {
		err   error
		state lifecycle.State
	}
	result := make(chan outcome, 1)

	go func() {
		st, err := work(ctx)
		result <- outcome{state: st, err: err}
		p.prog.Send(DoneMsg{State: st, Err: err})
	}()

	// Stop the program if the parent context ends.
	go func() {
		<-ctx.Done()
		p.prog.Quit()
	}()

	if _, err := p.prog.Run(); err != nil {
		cancel()
		<-result
		return lifecycle.State{}, fmt.Errorf("progress view failed: %w", err)
	}

	cancel()
	out := <-result
	return out.state, out.err
}
