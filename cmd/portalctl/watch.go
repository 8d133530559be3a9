package main

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/portal-autologin/internal/client"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

type tickMsg time.Time

type snapshotMsg struct {
	status    types.StatusResponse
	health    types.HealthResponse
	err       error
	healthErr error
	at        time.Time
}

type watchModel struct {
	ctx      context.Context
	client   *client.Client
	interval time.Duration
	last     *snapshotMsg
}

func newWatchModel(ctx context.Context, c *client.Client, interval time.Duration) watchModel {
	return watchModel{ctx: ctx, client: c, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m watchModel) fetch() tea.Msg {
	st, err := m.client.Status(m.ctx)
	health, healthErr := m.client.Health(m.ctx)
	return snapshotMsg{status: st, health: health, err: err, healthErr: healthErr, at: time.Now()}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tickMsg:
		return m, m.fetch
	case snapshotMsg:
		m.last = &msg
		return m, m.tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.last == nil {
		return dimStyle.Render("Connecting...") + "\n"
	}
	if m.last.err != nil {
		return errStyle.Render("Error: "+m.last.err.Error()) + "\n" + m.footer()
	}
	return renderStatus(m.last.status, m.last.health, m.last.healthErr, m.last.at) + "\n" + m.footer()
}

func (m watchModel) footer() string {
	return dimStyle.Render("refresh every " + m.interval.String() + " • r refresh • q quit")
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < 200*time.Millisecond {
				interval = 200 * time.Millisecond
			}
			m := newWatchModel(cmd.Context(), newClient(), interval)
			_, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			if errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
