package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/synccontroller"
)

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	styleCode      = lipgloss.NewStyle().Bold(true).Padding(0, 2).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("212"))
	styleStatus    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleConnected = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	styleError     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// consoleSink renders the Controller's event stream to the terminal. It
// mirrors the event names the original Tauri frontend listened for
// (sync-status-changed, sync-state-updated, ...), just printed instead
// of dispatched to a webview.
type consoleSink struct {
	connectedAt time.Time
}

func (s *consoleSink) OnStatusChanged(st synccontroller.SessionState) {
	switch st.Status {
	case synccontroller.StatusWaitingForPeer:
		fmt.Println(styleStatus.Render("waiting for a peer to join..."))
	case synccontroller.StatusConnecting:
		fmt.Println(styleStatus.Render("connecting..."))
	case synccontroller.StatusConnected:
		s.connectedAt = time.Now()
		name := "peer"
		if st.Peer != nil && st.Peer.DeviceName != "" {
			name = st.Peer.DeviceName
		}
		fmt.Println(styleConnected.Render(fmt.Sprintf("connected to %s", name)))
	case synccontroller.StatusDisconnected:
		fmt.Println(styleStatus.Render("disconnected"))
	}
}

func (s *consoleSink) OnStateUpdated(snap crdtdoc.Snapshot, updateType string) {
	fmt.Printf("%s %s (%s ago)\n", styleStatus.Render("state updated:"), updateType, humanize.Time(time.Now()))
	if snap.Transcript != "" {
		fmt.Printf("  transcript: %s\n", truncate(snap.Transcript, 120))
	}
}

func (s *consoleSink) OnError(message string) {
	fmt.Println(styleError.Render("error: " + message))
}

func (s *consoleSink) OnDisconnected() {
	fmt.Println(styleStatus.Render("peer disconnected"))
}

func (s *consoleSink) OnHeartbeatTimeout() {
	fmt.Println(styleWarn.Render("peer heartbeat timed out"))
}

func (s *consoleSink) OnSessionWarning(remaining time.Duration) {
	fmt.Println(styleWarn.Render(fmt.Sprintf("session expires in %s", remaining.Round(time.Minute))))
}

func (s *consoleSink) OnSessionTimeout() {
	fmt.Println(styleError.Render("session timed out"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
