package debugger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"synacorvm/vm"
)

// focusRegion names which widget currently receives key input, mirroring
// the reference debugger's pile focus positions.
type focusRegion int

const (
	focusOutput focusRegion = iota
	focusInput
	focusBreakpoint
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().Bold(true)

	currentLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	breakLineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Model is the bubbletea Elm-architecture model driving one debugging
// session: a Controller plus the widgets (input and breakpoint fields, a
// scrolling output viewport) and the focus state the reference debugger
// keeps in its urwid Pile. The disassembly pane is re-rendered from the
// Controller on every View rather than held in a widget.
type Model struct {
	ctrl *Controller

	focus       focusRegion
	input       textinput.Model
	breakInput  textinput.Model
	output      viewport.Model
	statusLine  string
	width       int
	height      int
	initialized bool
}

// NewModel builds a TUI model around an already-wired Controller (VM
// constructed with breakOnInput true, Sink a *vm.BufferSink the Controller
// drains every step).
func NewModel(ctrl *Controller) Model {
	in := textinput.New()
	in.Placeholder = "input for IN"
	in.CharLimit = 256

	bp := textinput.New()
	bp.Placeholder = "address"
	bp.CharLimit = 6

	return Model{
		ctrl:       ctrl,
		focus:      focusOutput,
		input:      in,
		breakInput: bp,
		output:     viewport.New(80, 15),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// runSliceMsg carries the result of one Controller.Run slice so long runs
// don't block the bubbletea event loop.
type runSliceMsg struct {
	stopped bool
	err     error
}

func runSliceCmd(ctrl *Controller) tea.Cmd {
	return func() tea.Msg {
		stopped, err := ctrl.Run(context.Background())
		return runSliceMsg{stopped: stopped, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.Width = msg.Width - 4
		m.output.Height = 10
		m.initialized = true
		return m, nil

	case runSliceMsg:
		m.syncOutput()
		if msg.err != nil {
			m.statusLine = fmt.Sprintf("error: %v", msg.err)
			return m, nil
		}
		if !msg.stopped {
			return m, runSliceCmd(m.ctrl)
		}
		if m.ctrl.VM.Status == vm.StatusExpectingInput {
			m.focus = focusInput
			m.input.Focus()
			m.input.SetValue("")
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.focus {
	case focusInput:
		switch msg.String() {
		case "enter":
			line := m.input.Value() + "\n"
			m.ctrl.SubmitInput(line)
			m.focus = focusOutput
			m.input.Blur()
			if err := m.ctrl.Step(); err != nil {
				m.statusLine = fmt.Sprintf("error: %v", err)
			}
			m.syncOutput()
			return m, nil
		case "esc":
			m.focus = focusOutput
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case focusBreakpoint:
		switch msg.String() {
		case "enter":
			addr, err := strconv.Atoi(m.breakInput.Value())
			if err == nil {
				m.ctrl.ToggleBreakpoint(vm.Word(addr))
			}
			m.breakInput.SetValue("")
			m.focus = focusOutput
			m.breakInput.Blur()
			return m, nil
		case "esc":
			m.focus = focusOutput
			m.breakInput.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.breakInput, cmd = m.breakInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		if err := m.ctrl.Step(); err != nil {
			m.statusLine = fmt.Sprintf("error: %v", err)
		}
		m.syncOutput()
		return m, nil
	case "r":
		return m, runSliceCmd(m.ctrl)
	case "u":
		if m.ctrl.Rewind() {
			m.statusLine = "rewound one step"
		} else {
			m.statusLine = "nothing to rewind"
		}
		return m, nil
	case "b":
		m.focus = focusBreakpoint
		m.breakInput.Focus()
		return m, nil
	case "esc":
		m.focus = focusOutput
		return m, nil
	}
	return m, nil
}

func (m *Model) syncOutput() {
	m.output.SetContent(m.ctrl.OutputLog())
	m.output.GotoBottom()
}

func (m Model) View() string {
	if !m.initialized {
		return "initializing...\n"
	}

	status := m.ctrl.Status()
	regs := m.ctrl.Registers()
	stack := m.ctrl.Stack()
	disasm := m.ctrl.Disassembly(7)

	statusBox := boxStyle.Render(fmt.Sprintf(
		"%s\nposition: %d\ncycles: %d\nstatus: %s\nbreakpoints: %v",
		titleStyle.Render("Status"), status.Position, status.Cycles, status.Status, status.Breakpoints,
	))

	var regParts []string
	for i, v := range regs.Values {
		regParts = append(regParts, fmt.Sprintf("r%d=%d", i, v))
	}
	regBox := boxStyle.Render(titleStyle.Render("Registers") + "\n" + strings.Join(regParts, "  "))

	var stackParts []string
	for _, v := range stack.Values {
		stackParts = append(stackParts, fmt.Sprintf("%d", v))
	}
	stackBox := boxStyle.Render(titleStyle.Render("Stack") + "\n" + strings.Join(stackParts, " "))

	outputBox := boxStyle.Render(titleStyle.Render("Output") + "\n" + m.output.View())

	var disLines []string
	for _, l := range disasm.Lines {
		marker := " "
		if l.IsCurrent {
			marker = ">"
		}
		brk := " "
		if l.IsBreakpoint {
			brk = "o"
		}
		line := fmt.Sprintf("%s%s %5d  %s", marker, brk, l.Address, l.Text)
		if l.IsCurrent {
			line = currentLineStyle.Render(line)
		} else if l.IsBreakpoint {
			line = breakLineStyle.Render(line)
		}
		disLines = append(disLines, line)
	}
	disBox := boxStyle.Render(titleStyle.Render("Disassembly") + "\n" + strings.Join(disLines, "\n"))

	inputBox := boxStyle.Render(titleStyle.Render("Input") + "\n" + m.input.View())
	breakBox := boxStyle.Render(titleStyle.Render("Breakpoint") + "\n" + m.breakInput.View())

	help := helpStyle.Render("[s]tep  [r]un  [u]ndo  [b]reakpoint  enter: submit/toggle  esc: back  [q]uit")

	return lipgloss.JoinVertical(lipgloss.Left,
		statusBox, regBox, stackBox, outputBox, inputBox, disBox, breakBox, m.statusLine, help,
	)
}
