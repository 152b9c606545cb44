package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"localpilot/internal/config"
	"localpilot/internal/logging"
	"localpilot/internal/pilot"
)

// =============================================================================
// CHAT REPL
// =============================================================================

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			// Config edits apply to the next turn without a restart.
			if _, err := os.Stat(flagConfig); err == nil {
				watcher := config.NewWatcher(flagConfig, a.cfg, a.pilot.UpdateConfig, logging.Named("config"))
				go func() {
					if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
						a.log.Warn("config watcher stopped", zap.Error(err))
					}
				}()
			}

			m := newChatModel(ctx, a, conversationID())
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}

// =============================================================================
// BUBBLETEA MODEL
// =============================================================================

type pilotEventMsg pilot.Event

type turnDoneMsg struct{}

type chatModel struct {
	ctx            context.Context
	app            *app
	conversationID string

	input      textinput.Model
	spin       spinner.Model
	vp         viewport.Model
	ready      bool
	busy       bool
	status     string
	transcript []string

	events <-chan pilot.Event
}

func newChatModel(ctx context.Context, a *app, conversationID string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "ask something…"
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		ctx:            ctx,
		app:            a,
		conversationID: conversationID,
		input:          ti,
		spin:           sp,
		transcript: []string{
			statusStyle.Render(fmt.Sprintf("%s ready — ctrl+c to quit", a.cfg.Meta.Name)),
		},
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

// waitForEvent forwards the next turn event into the program.
func waitForEvent(ch <-chan pilot.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return turnDoneMsg{}
		}
		return pilotEventMsg(ev)
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := 3
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - inputHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.status = "thinking"
			m.transcript = append(m.transcript, userStyle.Render("you ")+text)
			m.refresh()

			m.events = m.app.pilot.ProcessStream(m.ctx, m.conversationID, text)
			return m, tea.Batch(m.spin.Tick, waitForEvent(m.events))
		}

	case pilotEventMsg:
		switch msg.Type {
		case pilot.EventStatus:
			m.status = msg.Text
		case pilot.EventAnswer:
			m.transcript = append(m.transcript,
				botStyle.Render(m.app.cfg.Meta.Name+" ")+renderMarkdown(msg.Text))
		case pilot.EventError:
			m.transcript = append(m.transcript, errorStyle.Render(msg.Text))
		}
		m.refresh()
		return m, waitForEvent(m.events)

	case turnDoneMsg:
		m.busy = false
		m.status = ""
		m.events = nil
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(strings.Join(m.transcript, "\n\n"))
	m.vp.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "starting…"
	}

	bottom := m.input.View()
	if m.busy {
		bottom = m.spin.View() + " " + statusStyle.Render(m.status)
	}
	return m.vp.View() + "\n\n" + bottom
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown pretty-prints an answer for the terminal, falling back to
// the raw text when rendering fails.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
