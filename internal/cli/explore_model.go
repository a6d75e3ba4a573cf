package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/testmap/pkg/controller"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/persist"
	"github.com/matzehuels/testmap/pkg/positions"
)

// moveStep is how far one arrow key press moves a node.
const moveStep = 10

var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	movedStyle        = lipgloss.NewStyle().Foreground(colorYellow)
	panelStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(0, 1)
)

type (
	diagramMsg diagram.Diagram
	statusMsg  persist.Status
	noteMsg    struct {
		text     string
		severity notify.Severity
	}
	errMsg struct{ err error }
)

// exploreEvents carries controller events to the explorer. Diagrams go
// through a single slot that always holds the newest one. Notes and status
// changes are buffered and dropped when the buffer is full.
type exploreEvents struct {
	mu       sync.Mutex
	diagrams chan diagram.Diagram
	other    chan tea.Msg
	logger   *log.Logger
}

func newExploreEvents(buffer int, logger *log.Logger) *exploreEvents {
	return &exploreEvents{
		diagrams: make(chan diagram.Diagram, 1),
		other:    make(chan tea.Msg, buffer),
		logger:   logger,
	}
}

// publishDiagram replaces an undelivered diagram with d.
func (e *exploreEvents) publishDiagram(d diagram.Diagram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.diagrams:
	default:
	}
	e.diagrams <- d
}

func (e *exploreEvents) send(msg tea.Msg) {
	select {
	case e.other <- msg:
	default:
		e.logger.Debug("dropped explorer event", "type", fmt.Sprintf("%T", msg))
	}
}

// exploreModel is the bubbletea model of the explorer. Controller events
// arrive on events and are re-armed after every message.
type exploreModel struct {
	ctx    context.Context
	ctrl   *controller.Controller
	events *exploreEvents

	diagram   diagram.Diagram
	cursor    int
	offset    int
	height    int
	selection *controller.Selection
	status    persist.Status
	note      *noteMsg
	err       error
}

func newExploreModel(ctx context.Context, ctrl *controller.Controller, events *exploreEvents) exploreModel {
	return exploreModel{
		ctx:     ctx,
		ctrl:    ctrl,
		events:  events,
		diagram: ctrl.Diagram(),
		height:  15,
	}
}

func (m exploreModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m exploreModel) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case d := <-m.events.diagrams:
			return diagramMsg(d)
		case msg := <-m.events.other:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case diagramMsg:
		m.setDiagram(diagram.Diagram(msg))
		return m, m.waitForEvent()
	case statusMsg:
		m.status = persist.Status(msg)
		return m, m.waitForEvent()
	case noteMsg:
		m.note = &msg
		return m, m.waitForEvent()
	case errMsg:
		m.err = msg.err
		return m, nil
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-14, 5)
		m.scroll()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m exploreModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.selection == nil {
			return m, tea.Quit
		}
		m.selection = nil
	case "tab", "j":
		m.step(1)
	case "shift+tab", "k":
		m.step(-1)
	case "up":
		m.move(0, -moveStep)
	case "down":
		m.move(0, moveStep)
	case "left":
		m.move(-moveStep, 0)
	case "right":
		m.move(moveStep, 0)
	case "enter":
		m.click()
	case "r":
		m.reset()
	case "ctrl+r":
		ctx, ctrl := m.ctx, m.ctrl
		return m, func() tea.Msg {
			if err := ctrl.Refresh(ctx); err != nil {
				return errMsg{err}
			}
			return noteMsg{text: "Reloaded", severity: notify.SeverityInfo}
		}
	}
	return m, nil
}

// current returns the node under the cursor.
func (m *exploreModel) current() (diagram.Node, bool) {
	if m.cursor < 0 || m.cursor >= len(m.diagram.Nodes) {
		return diagram.Node{}, false
	}
	return m.diagram.Nodes[m.cursor], true
}

func (m *exploreModel) step(delta int) {
	n := len(m.diagram.Nodes)
	if n == 0 {
		return
	}
	m.cursor = (m.cursor + delta + n) % n
	m.scroll()
}

func (m *exploreModel) scroll() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+m.height {
		m.offset = m.cursor - m.height + 1
	}
}

func (m *exploreModel) move(dx, dy float64) {
	node, ok := m.current()
	if !ok {
		return
	}
	if err := m.ctrl.Move(node.ID, node.Position.X+dx, node.Position.Y+dy); err != nil {
		m.err = err
		return
	}
	m.setDiagram(m.ctrl.Diagram())
}

func (m *exploreModel) click() {
	node, ok := m.current()
	if !ok {
		return
	}
	sel, err := m.ctrl.Click(node.ID)
	if err != nil {
		m.err = err
		return
	}
	m.selection = &sel
}

func (m *exploreModel) reset() {
	node, ok := m.current()
	if !ok {
		return
	}
	err := m.ctrl.ResetPosition(m.ctx, node.ID)
	switch {
	case errors.Is(err, positions.ErrNotFound):
		m.note = &noteMsg{text: node.Data.Label + " is already in its layout position", severity: notify.SeverityInfo}
	case err != nil:
		m.err = err
	default:
		m.setDiagram(m.ctrl.Diagram())
	}
}

// setDiagram replaces the diagram and keeps the cursor on the same node
// when it still exists.
func (m *exploreModel) setDiagram(d diagram.Diagram) {
	var selected string
	if node, ok := m.current(); ok {
		selected = node.ID
	}
	m.diagram = d
	for i, n := range d.Nodes {
		if n.ID == selected {
			m.cursor = i
			m.scroll()
			m.refreshSelection()
			return
		}
	}
	m.cursor = min(m.cursor, max(len(d.Nodes)-1, 0))
	m.scroll()
	m.refreshSelection()
}

func (m *exploreModel) refreshSelection() {
	if m.selection == nil {
		return
	}
	sel, err := m.ctrl.Click(m.selection.NodeID)
	if err != nil {
		m.selection = nil
		return
	}
	m.selection = &sel
}

// =============================================================================
// View
// =============================================================================

func (m exploreModel) View() string {
	var b strings.Builder

	project := m.ctrl.Project()
	b.WriteString(StyleTitle.Render(project.Name))
	b.WriteString(StyleDim.Render("  project " + project.ID.String()))
	b.WriteString("\n")
	b.WriteString(StyleDim.Render("tab/j/k select  ←↑↓→ move  ⏎ details  r reset  ctrl+r reload  q quit"))
	b.WriteString("\n\n")

	end := min(m.offset+m.height, len(m.diagram.Nodes))
	for i := m.offset; i < end; i++ {
		b.WriteString(m.nodeLine(i))
		b.WriteString("\n")
	}
	if len(m.diagram.Nodes) == 0 {
		b.WriteString(StyleDim.Render("  (no nodes)\n"))
	}

	if m.selection != nil {
		b.WriteString("\n")
		b.WriteString(panelStyle.Render(selectionPanel(*m.selection)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m exploreModel) nodeLine(i int) string {
	n := m.diagram.Nodes[i]
	cursor, style := "  ", listNormalStyle
	if i == m.cursor {
		cursor, style = "▸ ", listSelectedStyle
	}
	indent := strings.Repeat("  ", nodeDepth(n))
	line := cursor + indent + style.Render(n.Data.Label) +
		StyleDim.Render(fmt.Sprintf("  %s  (%.0f, %.0f)", n.Kind, n.Position.X, n.Position.Y))
	if n.Overridden {
		line += movedStyle.Render("  moved")
	}
	return line
}

func nodeDepth(n diagram.Node) int {
	switch {
	case n.Kind == diagram.KindRoot:
		return 0
	case n.Kind.IsGroup():
		return n.Data.Level + 2
	default:
		return n.Data.Level + 1
	}
}

func selectionPanel(sel controller.Selection) string {
	var b strings.Builder
	switch sel.Panel {
	case controller.PanelProject:
		b.WriteString(StyleTitle.Render(sel.Project.Name) + "\n")
		if sel.Project.Description != "" {
			b.WriteString(sel.Project.Description + "\n")
		}
	case controller.PanelFeature:
		b.WriteString(StyleTitle.Render(sel.Feature.Name) + "\n")
		if sel.Feature.Description != "" {
			b.WriteString(sel.Feature.Description + "\n")
		}
	case controller.PanelTests:
		title := "Tests of " + sel.Feature.Name
		if sel.Priority != domain.PriorityNormal {
			title = fmt.Sprintf("%s priority tests of %s", strings.ToUpper(string(sel.Priority[:1]))+string(sel.Priority[1:]), sel.Feature.Name)
		}
		b.WriteString(StyleTitle.Render(title) + "\n")
	}
	cov := sel.Coverage
	b.WriteString(StyleDim.Render(fmt.Sprintf("%d tests, %d tested, %d untested", cov.Total, cov.Tested, cov.Untested)))
	for _, t := range sel.Tests {
		mark := StyleError.Render("○")
		if t.Tested {
			mark = StyleSuccess.Render("●")
		}
		b.WriteString("\n" + mark + " " + t.Name)
	}
	return b.String()
}

func (m exploreModel) statusLine() string {
	var parts []string
	switch m.status {
	case persist.StatusSaving:
		parts = append(parts, StyleWarning.Render("● saving"))
	case persist.StatusSaved:
		parts = append(parts, StyleSuccess.Render("✓ saved"))
	case persist.StatusError:
		parts = append(parts, StyleError.Render("✗ save failed"))
	default:
		parts = append(parts, StyleDim.Render("○ idle"))
	}
	parts = append(parts, StyleDim.Render(statsLine(len(m.diagram.Nodes), len(m.diagram.Edges), countOverridden(m.diagram))))
	if m.err != nil {
		parts = append(parts, StyleError.Render(m.err.Error()))
	} else if m.note != nil {
		parts = append(parts, noteStyle(m.note.severity).Render(m.note.text))
	}
	return strings.Join(parts, StyleDim.Render(" · "))
}

func noteStyle(s notify.Severity) lipgloss.Style {
	switch s {
	case notify.SeverityError:
		return StyleError
	case notify.SeverityWarning:
		return StyleWarning
	case notify.SeveritySuccess:
		return StyleSuccess
	default:
		return StyleValue
	}
}
