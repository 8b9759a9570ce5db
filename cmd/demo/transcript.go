// cmd/demo/transcript.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Corphon/AIHouse/internal/cast"
	"github.com/Corphon/AIHouse/internal/models"
	"github.com/Corphon/AIHouse/internal/narrative"
)

type demoLine struct {
	character string
	text      string
}

// parseLines 解析 "character|text"，为空时使用默认脚本
func parseLines(raw []string) ([]demoLine, error) {
	if len(raw) == 0 {
		raw = defaultLines
	}
	out := make([]demoLine, 0, len(raw))
	for _, r := range raw {
		id, text, ok := strings.Cut(r, "|")
		id, text = strings.ToLower(strings.TrimSpace(id)), strings.TrimSpace(text)
		if !ok || id == "" || text == "" {
			return nil, fmt.Errorf("invalid message %q, want character|text", r)
		}
		out = append(out, demoLine{character: id, text: text})
	}
	return out, nil
}

var speakerColors = map[string]lipgloss.Color{
	"max":    lipgloss.Color("39"),
	"leo":    lipgloss.Color("214"),
	"emma":   lipgloss.Color("170"),
	"marvin": lipgloss.Color("245"),
	"user":   lipgloss.Color("82"),
}

type transcript struct {
	out   io.Writer
	color bool

	title    lipgloss.Style
	dim      lipgloss.Style
	section  lipgloss.Style
	errStyle lipgloss.Style
}

// newTranscript 仅在终端上输出颜色，管道与重定向保持纯文本
func newTranscript(out io.Writer) *transcript {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	t := &transcript{out: out, color: color}
	t.title = t.style(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")))
	t.dim = t.style(lipgloss.NewStyle().Faint(true))
	t.section = t.style(lipgloss.NewStyle().Bold(true).Underline(true))
	t.errStyle = t.style(lipgloss.NewStyle().Foreground(lipgloss.Color("196")))
	return t
}

func (t *transcript) style(s lipgloss.Style) lipgloss.Style {
	if !t.color {
		return lipgloss.NewStyle()
	}
	return s
}

func (t *transcript) speaker(id string) string {
	name := id
	if p, ok := cast.LookupPersona(id); ok {
		name = p.Name
	} else if id == "user" {
		name = "You"
	}
	c, ok := speakerColors[id]
	if !ok {
		c = lipgloss.Color("252")
	}
	return t.style(lipgloss.NewStyle().Bold(true).Foreground(c)).Render(name)
}

func (t *transcript) Header(world string, personas []models.Persona) {
	fmt.Fprintln(t.out, t.title.Render("🏠 "+world))
	names := make([]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, p.Name)
	}
	fmt.Fprintln(t.out, t.dim.Render("cast: "+strings.Join(names, ", ")))
	fmt.Fprintln(t.out)
}

func (t *transcript) Messages(msgs []models.Message) {
	fmt.Fprintln(t.out, t.section.Render("Transcript"))
	for _, m := range msgs {
		prefix := t.dim.Render(m.Timestamp.Format("15:04:05"))
		tag := ""
		if m.Type != models.MessageTypeAI && m.Type != models.MessageTypeUser {
			tag = t.dim.Render(" (" + string(m.Type) + ")")
		}
		fmt.Fprintf(t.out, "%s %s%s: %s\n", prefix, t.speaker(m.Speaker), tag, m.Content)
	}
	fmt.Fprintln(t.out)
}

func (t *transcript) Summary(s models.SceneSummary) {
	fmt.Fprintln(t.out, t.section.Render("Scene"))
	fmt.Fprintf(t.out, "%s\n", s.Summary)
	fmt.Fprintln(t.out, t.dim.Render(fmt.Sprintf("theme: %s · tone: %s (%.2f) · via %s",
		s.Theme, s.EmotionalTone, s.ToneScore, s.Strategy)))
	fmt.Fprintln(t.out)
}

func (t *transcript) Arcs(arcs []narrative.ArcStatus) {
	fmt.Fprintln(t.out, t.section.Render("Arcs"))
	for _, a := range arcs {
		state := "idle"
		if a.Active {
			state = fmt.Sprintf("active · %s (%d/%d)", a.CurrentPhase, len(a.CompletedPhases), a.PhaseCount)
		} else if a.Status == narrative.StatusCompleted {
			state = "completed"
		}
		fmt.Fprintf(t.out, "  %s %s\n", a.Title, t.dim.Render(state))
	}
	fmt.Fprintln(t.out)
}

func (t *transcript) Export(format, content string) {
	fmt.Fprintln(t.out, t.section.Render("Export ("+format+")"))
	fmt.Fprintln(t.out, content)
}

func (t *transcript) Note(s string) {
	fmt.Fprintln(t.out, t.dim.Render(s))
}

func (t *transcript) Error(s string) {
	fmt.Fprintln(t.out, t.errStyle.Render("✗ "+s))
}
