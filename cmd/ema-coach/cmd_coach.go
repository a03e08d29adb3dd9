package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-coach/core/backend"
	"github.com/koscakluka/ema-coach/core/coach"
	"github.com/koscakluka/ema-coach/core/session"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
)

var (
	flagScenario string
	flagUserID   string
)

func init() {
	rootCmd.AddCommand(coachCmd)
	coachCmd.Flags().StringVar(&flagScenario, "scenario", "", "start a new conversation for this scenario id")
	coachCmd.Flags().StringVar(&flagUserID, "user", "", "user id for a new conversation")
}

var coachCmd = &cobra.Command{
	Use:   "coach [conversation-id]",
	Short: "Practice a conversation with the coach",
	Args:  cobra.MaximumNArgs(1),
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

		var conversationID string
		switch {
		case len(args) == 1:
			conversationID = args[0]
		case flagScenario != "":
			conversation, err := a.backend.CreateConversation(ctx, backend.ConversationCreate{
				UserID:     flagUserID,
				ScenarioID: flagScenario,
			})
			if err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}
			conversationID = conversation.ID
		default:
			return fmt.Errorf("pass a conversation id or --scenario to start a new one")
		}

		refresh := newRefresher()
		input := textinput.New()
		input.Placeholder = "Type a message"
		input.Focus()

		model := &coachModel{
			ctx:            ctx,
			conversationID: conversationID,
			refresh:        refresh,
			input:          input,
			width:          defaultWidth,
			coach: coach.New(a.registry, coach.NewStore(),
				coach.WithOnChange(func(coach.View) { refresh.notify() }),
				coach.WithHistory(a.backend),
				coach.WithSessionOptions(session.WithEndpoint(a.backend.WebsocketURL(cfg.Backend.CoachPath))),
			),
		}
		model.view = model.coach.View()
		defer model.coach.Leave()

		return runProgram(ctx, model)
	},
}

type coachModel struct {
	ctx            context.Context
	conversationID string
	coach          *coach.Coach
	refresh        refresher
	input          textinput.Model
	view           coach.View
	width          int
	confirmLeave   bool
	err            error
}

type coachResultMsg struct{ err error }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *coachModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refresh.wait(),
		tick(),
		m.run(func(ctx context.Context) error { return m.coach.Enter(ctx, m.conversationID) }),
	)
}

func (m *coachModel) run(action func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return coachResultMsg{err: action(m.ctx)}
	}
}

func (m *coachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 4
		return m, nil
	case refreshMsg:
		m.view = m.coach.View()
		return m, m.refresh.wait()
	case tickMsg:
		m.view = m.coach.View()
		return m, tick()
	case coachResultMsg:
		m.err = msg.err
		m.view = m.coach.View()
		return m, nil
	case tea.KeyMsg:
		if m.confirmLeave {
			switch msg.String() {
			case "y", "enter":
				return m, tea.Quit
			default:
				m.confirmLeave = false
				return m, nil
			}
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.confirmLeave = true
			return m, nil
		case "ctrl+r":
			m.err = nil
			if m.view.CanRetry {
				return m, m.run(m.coach.Retry)
			} else if m.view.Recording {
				return m, m.run(m.coach.ReleaseRecord)
			}
			return m, m.run(m.coach.PressRecord)
		case "enter":
			text := m.input.Value()
			m.input.SetValue("")
			m.err = nil
			return m, m.run(func(ctx context.Context) error { return m.coach.SendText(ctx, text) })
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *coachModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Conversation"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.view.Elapsed))
	b.WriteString("\n\n")

	width := max(m.width, 20)
	for _, message := range m.view.Messages {
		text := wordwrap.String(message.Content, width*3/4)
		if message.Source == backend.SourceUser {
			b.WriteString(userStyle.Width(width).Render(text))
		} else {
			b.WriteString(botStyle.Render(text))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.confirmLeave {
		b.WriteString(titleStyle.Render("End this conversation? (y/n)"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.view.Status))
	b.WriteString("\n")
	if err := firstErr(m.err, m.view.Err); err != nil {
		b.WriteString(errorStyle.Render(wordwrap.String(err.Error(), width)))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: send · ctrl+r: record/stop (retry when disconnected) · esc: end"))
	b.WriteString("\n")
	return b.String()
}
