package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	suggestionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	helpStyle       = lipgloss.NewStyle().Faint(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Align(lipgloss.Right)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

const defaultWidth = 72

// refreshMsg tells a model to re-read its adapter's view.
type refreshMsg struct{}

// refresher coalesces adapter change callbacks into refreshMsg values. The
// callbacks run on session goroutines and may fire while the program's event
// loop is itself calling into the adapter, so they never block.
type refresher chan struct{}

func newRefresher() refresher { return make(refresher, 1) }

func (r refresher) notify() {
	select {
	case r <- struct{}{}:
	default:
	}
}

func (r refresher) wait() tea.Cmd {
	return func() tea.Msg {
		<-r
		return refreshMsg{}
	}
}

// runProgram runs model until it quits or the process is interrupted.
func runProgram(ctx context.Context, model tea.Model) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	program := tea.NewProgram(model, tea.WithContext(ctx))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		program.Quit()
		return nil
	})
	return g.Wait()
}
