package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hako/durafmt"

	"github.com/Rorqualx/portal-autologin/internal/credentials"
	"github.com/Rorqualx/portal-autologin/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func ago(now time.Time, ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return since(now.Sub(time.UnixMilli(ms))) + " ago"
}

func since(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderStatus formats a status snapshot and health reply for the terminal.
// healthErr is the error returned by the health call, if any.
func renderStatus(st types.StatusResponse, health types.HealthResponse, healthErr error, now time.Time) string {
	var browser string
	switch {
	case health.Status == types.HealthOK:
		browser = okStyle.Render("healthy")
	case health.Status == types.HealthDegraded:
		browser = errStyle.Render("unhealthy")
	case healthErr != nil:
		browser = errStyle.Render("unknown: " + healthErr.Error())
	default:
		browser = dimStyle.Render("unknown")
	}

	active := dimStyle.Render("idle")
	if st.IsActive {
		active = warnStyle.Render(fmt.Sprintf("%d active", st.ActiveAttempts))
	}

	lines := []string{
		titleStyle.Render("portal-autologin") + " " + dimStyle.Render(st.Version),
		"",
		row("Browser", browser),
		row("Uptime", uptime(now, st.StartTime)),
		row("Last login", ago(now, st.LastLoginAttempt)),
		row("Attempts", active),
	}

	if len(st.Attempts) > 0 {
		lines = append(lines, "")
		for _, a := range st.Attempts {
			lines = append(lines, renderAttempt(a, now))
		}
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func uptime(now time.Time, startMS int64) string {
	if startMS <= 0 {
		return "unknown"
	}
	return since(now.Sub(time.UnixMilli(startMS)))
}

func renderAttempt(a types.AttemptInfo, now time.Time) string {
	status := string(a.Status)
	switch a.Status {
	case types.AttemptSucceeded:
		status = okStyle.Render(status)
	case types.AttemptFailed, types.AttemptTimedOut:
		status = errStyle.Render(status)
	default:
		status = warnStyle.Render(status)
	}

	parts := []string{"• " + a.ID, status, dimStyle.Render("tab " + string(a.TabID)), ago(now, a.CreatedAt)}
	if a.OriginURL != "" {
		parts = append(parts, dimStyle.Render(a.OriginURL))
	}
	return strings.Join(parts, "  ")
}

func renderLogin(resp types.LoginResponse) string {
	if resp.Success {
		return okStyle.Render("✓ ") + resp.Message + dimStyle.Render(" (tab "+string(resp.LoginTabID)+")")
	}
	msg := warnStyle.Render("✗ ") + resp.Message
	if resp.CooldownRemaining > 0 {
		msg += dimStyle.Render(fmt.Sprintf(" [cooldown %ds]", resp.CooldownRemaining))
	}
	return msg
}

func renderCredentials(path string, c credentials.Credentials) string {
	user := dimStyle.Render("not set")
	if c.Username != "" {
		user = c.Username
	}
	pass := dimStyle.Render("not set")
	if c.Password != "" {
		pass = strings.Repeat("•", 8)
	}
	auto := okStyle.Render("on")
	if !c.AutoSubmit {
		auto = warnStyle.Render("off")
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Portal login")+" "+dimStyle.Render(path),
		"",
		row("Username", user),
		row("Password", pass),
		row("Auto-submit", auto),
	))
}
