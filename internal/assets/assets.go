// Package assets renders the HTML status page served by the control API.
package assets

import (
	"bytes"
	"html"
	"html/template"
	"regexp"
)

// versionSanitizer strips anything that is not a plausible version character.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string injected through ldflags.
// Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	escaped := html.EscapeString(version)
	sanitized := versionSanitizer.ReplaceAllString(escaped, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// MonitorRow is one connectivity monitor on the status page.
type MonitorRow struct {
	Scheme              string
	Online              bool
	ConsecutiveFailures int
	LoginInProgress     bool
	LastCheck           string
}

// AttemptRow is one login attempt on the status page.
type AttemptRow struct {
	ID     string
	TabID  string
	Status string
	Age    string
}

// StatusPageData contains the data for rendering the status page.
type StatusPageData struct {
	Version        string
	GoVersion      string
	Uptime         string
	BrowserHealthy bool
	LastLogin      string
	Cooldown       string
	Monitors       []MonitorRow
	Attempts       []AttemptRow
}

var statusPageTemplate = template.Must(template.New("status").Parse(statusPageHTML))

// RenderStatusPage renders the status page. All values are escaped by
// html/template.
func RenderStatusPage(data StatusPageData) ([]byte, error) {
	data.Version = SanitizeVersion(data.Version)

	var buf bytes.Buffer
	if err := statusPageTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const statusPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="5">
    <title>Portal Autologin</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #16213e;
            color: #e0e0e0;
            margin: 0;
            padding: 2rem;
        }
        .container { max-width: 720px; margin: 0 auto; }
        h1 { color: #00d9ff; margin-bottom: 0.25rem; }
        h2 { color: #aaa; font-size: 1.1rem; margin-top: 2rem; }
        .subtitle { color: #888; margin-top: 0; }
        .ok { color: #00ff80; }
        .bad { color: #ff5c5c; }
        table { width: 100%; border-collapse: collapse; font-family: monospace; font-size: 0.9rem; }
        th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid rgba(255,255,255,0.08); }
        th { color: #888; font-weight: normal; }
        .info div { padding: 0.2rem 0; font-family: monospace; }
        .label { color: #888; }
    </style>
</head>
<body>
<div class="container">
    <h1>Portal Autologin</h1>
    <p class="subtitle">{{.Version}} &middot; {{.GoVersion}} &middot; up {{.Uptime}}</p>

    <div class="info">
        <div><span class="label">Browser:</span>
            {{if .BrowserHealthy}}<span class="ok">healthy</span>{{else}}<span class="bad">unavailable</span>{{end}}</div>
        <div><span class="label">Last login attempt:</span> {{.LastLogin}}</div>
        <div><span class="label">Cooldown:</span> {{.Cooldown}}</div>
    </div>

    <h2>Connectivity</h2>
    <table>
        <tr><th>Scheme</th><th>State</th><th>Failures</th><th>Login</th><th>Last check</th></tr>
        {{range .Monitors}}
        <tr>
            <td>{{.Scheme}}</td>
            <td>{{if .Online}}<span class="ok">online</span>{{else}}<span class="bad">offline</span>{{end}}</td>
            <td>{{.ConsecutiveFailures}}</td>
            <td>{{if .LoginInProgress}}in progress{{else}}idle{{end}}</td>
            <td>{{.LastCheck}}</td>
        </tr>
        {{end}}
    </table>

    <h2>Login attempts</h2>
    {{if .Attempts}}
    <table>
        <tr><th>Attempt</th><th>Tab</th><th>Status</th><th>Age</th></tr>
        {{range .Attempts}}
        <tr><td>{{.ID}}</td><td>{{.TabID}}</td><td>{{.Status}}</td><td>{{.Age}}</td></tr>
        {{end}}
    </table>
    {{else}}
    <p class="label">No active attempts.</p>
    {{end}}
</div>
</body>
</html>`
