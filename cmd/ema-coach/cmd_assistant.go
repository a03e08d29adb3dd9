package main

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-coach/core/assistant"
	"github.com/koscakluka/ema-coach/core/session"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(assistantCmd)
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Stream the microphone and show live suggestions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireToken(ctx, a.credentials); err != nil {
			return err
		}

		refresh := newRefresher()
		model := &assistantModel{
			ctx:     ctx,
			refresh: refresh,
			width:   defaultWidth,
			assistant: assistant.New(a.registry,
				assistant.WithOnChange(func(assistant.View) { refresh.notify() }),
				assistant.WithSessionOptions(session.WithEndpoint(a.backend.WebsocketURL(cfg.Backend.AssistantPath))),
			),
		}
		model.view = model.assistant.View()
		defer model.assistant.Unmount()

		return runProgram(ctx, model)
	},
}

type assistantModel struct {
	ctx       context.Context
	assistant *assistant.Assistant
	refresh   refresher
	view      assistant.View
	width     int
	err       error
}

type assistantResultMsg struct{ err error }

func (m *assistantModel) Init() tea.Cmd {
	return tea.Batch(m.refresh.wait(), m.run(m.assistant.Mount))
}

func (m *assistantModel) run(action func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return assistantResultMsg{err: action(m.ctx)}
	}
}

func (m *assistantModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case refreshMsg:
		m.view = m.assistant.View()
		return m, m.refresh.wait()
	case assistantResultMsg:
		m.err = msg.err
		m.view = m.assistant.View()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "enter":
			m.err = nil
			if m.view.CanRetry {
				return m, m.run(m.assistant.Retry)
			}
			return m, m.run(m.assistant.Toggle)
		}
	}
	return m, nil
}

func (m *assistantModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Assistant"))
	b.WriteString("\n\n")

	b.WriteString("Try saying\n")
	if m.view.Suggestion != "" {
		b.WriteString(suggestionStyle.Render(wordwrap.String(strings.Join(m.view.Words, " · "), m.width)))
	} else {
		b.WriteString(statusStyle.Render("..."))
	}
	b.WriteString("\n\n")

	for _, line := range m.view.Transcript {
		b.WriteString(wordwrap.String(line, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(statusStyle.Render(m.view.Status))
	b.WriteString("\n")
	if err := firstErr(m.err, m.view.Err); err != nil {
		b.WriteString(errorStyle.Render(wordwrap.String(err.Error(), m.width)))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("space: start/stop · q: quit"))
	b.WriteString("\n")
	return b.String()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
