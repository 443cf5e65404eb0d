package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"murmur/orchestrator"
	"murmur/status"
)

type statusMsg status.Update
type resultMsg orchestrator.Result
type frameMsg time.Time

const (
	eyeWidth    = 45
	frameRate   = 60 * time.Millisecond
	floorDB     = -60.0
	noVoiceWait = time.Second
)

type tuiModel struct {
	status  status.Update
	level   func() float64
	info    []string
	help    string
	frame   int
	now     time.Time
	smooth  float64
	peak    float64
	width   int
	height  int
	count   int
	last    orchestrator.Result
	hasLast bool
}

type palette struct {
	fg [16]lipgloss.Style
	bg [16][16]lipgloss.Style
}

// index 0 is empty space; 14 and 15 are reflections
var paletteColors = map[status.Status][]string{
	status.Idle:      {"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"},
	status.Listening: {"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"},
	status.Thinking:  {"", "231", "195", "159", "123", "39", "33", "27", "21", "17", "236", "236", "236", "236", "255", "249"},
	status.Success:   {"", "231", "194", "157", "120", "42", "34", "28", "22", "236", "236", "236", "236", "236", "255", "249"},
	status.Failed:    {"", "231", "224", "217", "210", "196", "160", "124", "88", "52", "52", "236", "236", "236", "255", "249"},
	status.Muted:     {"", "250", "248", "246", "244", "242", "240", "238", "237", "236", "236", "236", "236", "236", "252", "246"},
}

var palettes = map[status.Status]*palette{}

var statusStyles = map[status.Status]lipgloss.Style{
	status.Idle:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	status.Listening: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	status.Thinking:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
	status.Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	status.Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	status.Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
}

func init() {
	for s, colors := range paletteColors {
		p := &palette{}
		for i, fg := range colors {
			if fg == "" {
				continue
			}
			p.fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
			for j, bg := range colors {
				if bg != "" {
					p.bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
				}
			}
		}
		palettes[s] = p
	}
}

func newTUIModel(level func() float64, info []string, help string) tuiModel {
	return tuiModel{
		status: status.Update{Status: status.Idle, At: time.Now()},
		level:  level,
		info:   info,
		help:   help,
		now:    time.Now(),
	}
}

func newTUI(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func frameTick() tea.Cmd {
	return tea.Tick(frameRate, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// normLevel maps dBFS onto 0..1 for the eye animation.
func normLevel(db float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) || db <= floorDB {
		return 0
	}
	if db >= 0 {
		return 1
	}
	return (db - floorDB) / -floorDB
}

func (m tuiModel) Init() tea.Cmd {
	return frameTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case frameMsg:
		m.frame++
		m.now = time.Time(msg)
		if m.status.Status == status.Listening && m.level != nil {
			l := normLevel(m.level())
			m.smooth = m.smooth*0.6 + l*0.4
			m.peak = max(m.peak, l)
		}
		return m, frameTick()

	case statusMsg:
		if msg.Status == status.Listening && m.status.Status != status.Listening {
			m.smooth, m.peak = 0, 0
		}
		if msg.Status != status.Listening {
			m.smooth = 0
		}
		m.status = status.Update(msg)

	case resultMsg:
		m.count++
		m.last = orchestrator.Result(msg)
		m.hasLast = true
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	st := statusStyles[m.status.Status]
	switch m.status.Status {
	case status.Listening:
		return st.Render(fmt.Sprintf("● LISTENING %.1fs", m.now.Sub(m.status.At).Seconds()))
	case status.Thinking:
		return st.Render("◌ THINKING")
	case status.Success:
		return st.Render("✓ DONE")
	case status.Failed:
		return st.Render("✗ FAILED")
	case status.Muted:
		return st.Render("◍ MUTED")
	}
	return st.Render("○ STANDBY")
}

func (m tuiModel) noVoice() bool {
	return m.status.Status == status.Listening &&
		m.now.Sub(m.status.At) > noVoiceWait && m.peak < 0.02
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	lines := []string{m.statusLine()}
	if m.noVoice() {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  ⚠ no voice detected"))
	}
	if m.status.Status == status.Failed && m.status.Reason != "" {
		for _, l := range wrapText(m.status.Reason, eyeWidth-3) {
			lines = append(lines, dim.Render("  "+l))
		}
	}
	for _, l := range m.info {
		lines = append(lines, dim.Render(l))
	}
	lines = append(lines, "", lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Render(m.help))

	eyeLines := strings.Split(renderEye(m.frame, m.smooth, m.status.Status)+strings.Join(lines, "\n"), "\n")
	padded := make([]string, m.height)
	for i := range padded {
		if i < len(eyeLines) {
			padded[i] = eyeLines[i]
		} else {
			padded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}
	eyePanel := lipgloss.NewStyle().Width(eyeWidth - 1).Height(m.height).Render(strings.Join(padded, "\n"))

	logWidth := max(m.width-eyeWidth-1, 20)
	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(m.lastPanel(max(logWidth-2, 10)))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

func (m tuiModel) lastPanel(width int) string {
	if !m.hasLast {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("No dictations yet")
	}
	r := m.last

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("246")).
		Render(fmt.Sprintf("Last dictation (#%d, %s)", m.count, r.Source)))
	b.WriteString("\n\n")

	text, style := r.Text, lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	switch {
	case errors.Is(r.Err, orchestrator.ErrNoSpeech):
		text, style = "(no speech detected)", lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	case r.Err != nil:
		text, style = r.Err.Error(), lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	}
	wrapped := wrapText(text, width)
	for i, l := range wrapped {
		b.WriteString(style.Render(l))
		if i == len(wrapped)-1 && r.Err == nil && r.PasteErr == nil {
			b.WriteString(" " + lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("[✓ pasted]"))
		}
		b.WriteString("\n")
	}

	metrics := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	b.WriteString("\n")
	b.WriteString(metrics.Render(fmt.Sprintf("audio      %5.1fs", r.Audio.Seconds())) + "\n")
	b.WriteString(metrics.Render(fmt.Sprintf("transcribe %5.0fms", ms(r.TranscribeTime))) + "\n")
	if r.FormatTime > 0 {
		b.WriteString(metrics.Render(fmt.Sprintf("format     %5.0fms", ms(r.FormatTime))) + "\n")
	}
	if r.FormatErr != nil {
		b.WriteString(metrics.Render("format failed, pasted raw text") + "\n")
	}
	if r.PasteErr != nil {
		b.WriteString(metrics.Render("paste: "+r.PasteErr.Error()) + "\n")
	}
	return b.String()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func renderEye(frame int, level float64, st status.Status) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	var breathe float64
	switch st {
	case status.Listening:
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*0.25 - 0.05
	case status.Thinking:
		breathe = math.Sin(float64(frame)*0.30)*0.04 - 0.03
	case status.Muted:
		breathe = -0.08
	default:
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	rings := []struct {
		radius, react float64
		color         int
	}{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0, 10},
		{8.0, 0, 11},
		{10.0, 0, 12},
		{12.0, 0, 13},
	}
	for y := range pixH {
		for x := range pixW {
			dist := math.Hypot(float64(x)-centerX, float64(y)-centerY)
			for _, r := range rings {
				if dist < min(r.radius+breathe*r.react*20, 10.0) {
					pixels[y][x] = r.color
					break
				}
			}
		}
	}

	// reflections on the lens, elongated along the tangent
	spots := []struct {
		ox, oy, radius float64
		color          int
	}{
		{-6.36, -6.36, 0.7, 14},
		{-5.09, -5.09, 0.4, 15},
		{0, -10.0, 0.8, 14},
		{0, -8.2, 0.6, 15},
		{6.36, -6.36, 0.7, 14},
		{5.09, -5.09, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := range pixH {
		for x := range pixW {
			px, py := float64(x)-centerX, float64(y)-centerY
			for _, s := range spots {
				dx, dy := px-s.ox, py-s.oy
				rLen := math.Hypot(s.ox, s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	p := palettes[st]
	if p == nil {
		p = palettes[status.Idle]
	}
	var out strings.Builder
	for cy := range charsH {
		for cx := range charsW {
			top, bot := pixels[cy*2][cx], pixels[cy*2+1][cx]
			switch {
			case top == 0 && bot == 0:
				out.WriteString(" ")
			case top == bot:
				out.WriteString(p.fg[top].Render("█"))
			case bot == 0:
				out.WriteString(p.fg[top].Render("▀"))
			case top == 0:
				out.WriteString(p.fg[bot].Render("▄"))
			default:
				out.WriteString(p.bg[top][bot].Render("▀"))
			}
		}
		out.WriteString("\n")
	}
	return out.String()
}

func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}
	var lines []string
	for len(text) > width {
		split := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				split = i
				break
			}
		}
		lines = append(lines, text[:split])
		text = strings.TrimLeft(text[split:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
