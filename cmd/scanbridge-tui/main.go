package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"github.com/storekeeper/scanbridge/internal/logging"
	"github.com/storekeeper/scanbridge/internal/tui/app"
	"github.com/storekeeper/scanbridge/internal/tui/client"
)

func main() {
	wsURL := flag.StringP("url", "u", "ws://127.0.0.1:3333/ws", "WebSocket URL of the scanbridge daemon")
	token := flag.StringP("token", "t", "", "Auth token (if the daemon requires it)")
	logFile := flag.String("log-file", "", "Write client logs to this file")
	logLevel := flag.String("log-level", "info", "Log level for --log-file")
	flag.Parse()

	logger, closeLog, err := openLog(*logFile, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ws := client.NewWSClient(withToken(*wsURL, *token), logger)
	httpClient := client.NewHTTPClient(deriveHTTPBase(*wsURL), *token)

	m := app.New(ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openLog keeps log output off the terminal the TUI owns.
func openLog(path, level string) (*slog.Logger, func(), error) {
	if path == "" {
		return logging.Discard(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(f, level, "text")
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return logger, func() { f.Close() }, nil
}

// withToken adds the auth token as a query parameter, which is how the
// daemon authenticates WebSocket upgrades.
func withToken(wsURL, token string) string {
	if token == "" {
		return wsURL
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:3333"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
