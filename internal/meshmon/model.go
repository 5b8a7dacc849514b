// Package meshmon implements the read-only operator dashboard: a
// bubbletea Model that drives a node.Orchestrator purely to observe it,
// polling GetStats/GetPeers on a ticker and draining its event channel,
// grounded on the teacher's stringeditor/configeditor bubbletea models
// and their lipgloss styling conventions.
package meshmon

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meshnet/node/internal/node"
)

const (
	pollInterval  = 2 * time.Second
	maxLogLines   = 12
	minWidth      = 80
	minHeight     = 24
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

// Model is the bubbletea model for the mesh status board.
type Model struct {
	orc *node.Orchestrator

	nodeID      string
	displayName string

	snapshot node.AdminSnapshot
	peers    []node.AdminPeerInfo
	peerTbl  table.Model

	log []string

	width, height int
	quitting      bool
}

// New builds a Model that polls and observes orc. orc must already be
// running (its Run loop started in a separate goroutine); the Model
// never calls Submit with anything that mutates mesh state.
func New(orc *node.Orchestrator, displayName string) Model {
	columns := []table.Column{
		{Title: "Node", Width: 18},
		{Title: "Name", Width: 16},
		{Title: "Address", Width: 22},
		{Title: "Last Seen", Width: 10},
		{Title: "GW", Width: 3},
	}
	tbl := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(10))

	return Model{
		orc:         orc,
		nodeID:      orc.NodeID().ShortString(),
		displayName: displayName,
		peerTbl:     tbl,
		width:       minWidth,
		height:      minHeight,
	}
}

type tickMsg time.Time
type eventMsg struct{ ev node.Event }
type eventsClosedMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(orc *node.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-orc.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	m.orc.Submit(node.CmdGetStats{})
	m.orc.Submit(node.CmdGetPeers{})
	return tea.Batch(tickCmd(), waitForEvent(m.orc), tea.SetWindowTitle("meshmon"))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.orc.Submit(node.CmdGetStats{})
		m.orc.Submit(node.CmdGetPeers{})
		return m, tickCmd()

	case eventMsg:
		m = m.applyEvent(msg.ev)
		return m, waitForEvent(m.orc)

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) applyEvent(ev node.Event) Model {
	switch e := ev.(type) {
	case node.EventStats:
		m.snapshot = e.Snapshot
	case node.EventPeerList:
		m.peers = e.Peers
		m.peerTbl.SetRows(peerRows(e.Peers))
	case node.EventPeerConnected:
		m.appendLog(fmt.Sprintf("peer connected  %s (%s)", e.NodeID.ShortString(), e.DisplayName))
	case node.EventPeerDisconnected:
		m.appendLog(fmt.Sprintf("peer disconnected %s", e.NodeID.ShortString()))
	case node.EventGatewayFound:
		m.appendLog(fmt.Sprintf("gateway reachable via %s", e.NodeID.ShortString()))
	case node.EventGatewayLost:
		m.appendLog(fmt.Sprintf("gateway lost via %s", e.NodeID.ShortString()))
	case node.EventNuked:
		m.appendLog("local state wiped")
	case node.EventStopped:
		m.quitting = true
	}
	return m
}

func (m *Model) appendLog(line string) {
	stamp := time.Now().Format("15:04:05")
	m.log = append(m.log, fmt.Sprintf("%s  %s", stamp, line))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func peerRows(peers []node.AdminPeerInfo) []table.Row {
	rows := make([]table.Row, 0, len(peers))
	for _, p := range peers {
		gw := ""
		if p.Gateway {
			gw = "yes"
		}
		rows = append(rows, table.Row{
			p.NodeID.ShortString(),
			p.DisplayName,
			p.RemoteAddr,
			p.LastSeen.Format("15:04:05"),
			gw,
		})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "meshmon: disconnected\n"
	}

	header := headerStyle.Render(fmt.Sprintf(" meshmon — %s (%s) ", m.displayName, m.nodeID))

	stats := boxStyle.Render(strings.Join([]string{
		fmt.Sprintf("%s %s", labelStyle.Render("peers:"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.TotalPeers))),
		fmt.Sprintf("%s %s", labelStyle.Render("relayed:"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.MessagesRelayed))),
		fmt.Sprintf("%s %s", labelStyle.Render("received:"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.MessagesReceived))),
		fmt.Sprintf("%s %s", labelStyle.Render("unique nodes seen:"), valueStyle.Render(fmt.Sprintf("%d", m.snapshot.UniqueNodesSeen))),
		fmt.Sprintf("%s %s", labelStyle.Render("avg hops:"), valueStyle.Render(fmt.Sprintf("%.2f", m.snapshot.AverageHops))),
	}, "\n"))

	peerBox := boxStyle.Render(m.peerTbl.View())

	var logLines string
	if len(m.log) == 0 {
		logLines = logStyle.Render("(no events yet)")
	} else {
		logLines = logStyle.Render(strings.Join(m.log, "\n"))
	}
	logBox := boxStyle.Render(logLines)

	footer := labelStyle.Render("q to quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, stats, peerBox, logBox, footer) + "\n"
}
