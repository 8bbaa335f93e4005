package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cgast/schemaprobe/pkg/probe"
)

// Formats understood by Write.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Write renders r to w in the named format.
func Write(w io.Writer, r Report, format string) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatText, "":
		return WriteText(w, r)
	case FormatMarkdown, "md":
		_, err := io.WriteString(w, Markdown(r))
		return err
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type textStyles struct {
	title, pass, fail, err, warn, dim lipgloss.Style
}

func newTextStyles(w io.Writer) textStyles {
	re := lipgloss.NewRenderer(w)
	return textStyles{
		title: re.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		pass:  re.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		fail:  re.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		err:   re.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		warn:  re.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
		dim:   re.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// WriteText writes a human-readable report. Colors are used only when w is
// a terminal.
func WriteText(w io.Writer, r Report) error {
	st := newTextStyles(w)
	var b strings.Builder

	header := "Verification report"
	if r.RunID != "" {
		header += " " + st.dim.Render(r.RunID)
	}
	fmt.Fprintln(&b, st.title.Render(header))

	idWidth := 0
	for _, res := range r.Results {
		if len(res.CheckID) > idWidth {
			idWidth = len(res.CheckID)
		}
	}

	for _, res := range r.Results {
		label := fmt.Sprintf("%-5s", strings.ToUpper(string(res.Status)))
		switch res.Status {
		case probe.StatusPass:
			label = st.pass.Render(label)
		case probe.StatusFail:
			label = st.fail.Render(label)
		default:
			label = st.err.Render(label)
		}
		fmt.Fprintf(&b, "  %s %-*s  %s\n", label, idWidth, res.CheckID, res.Message)
	}

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%d passed, %d failed, %d errors (%d checks)\n",
		r.PassCount, r.FailCount, r.ErrorCount, r.Total())

	if len(r.MissingTargets) > 0 {
		fmt.Fprintf(&b, "Missing entities: %s\n", strings.Join(r.MissingTargets, ", "))
	}
	if len(r.SecurityWarnings) > 0 {
		fmt.Fprintln(&b, st.warn.Render("Security warnings:"))
		for _, sw := range r.SecurityWarnings {
			fmt.Fprintf(&b, "  ! %s (%s): %s\n", sw.CheckID, sw.Target, sw.Message)
		}
	}
	if r.Interrupted {
		fmt.Fprintf(&b, "Interrupted: %d checks not run\n", r.NotRun)
	}

	fmt.Fprintf(&b, "Verdict: %s\n", verdictLabel(st, r.Verdict))

	_, err := io.WriteString(w, b.String())
	return err
}

func verdictLabel(st textStyles, v Verdict) string {
	label := strings.ToUpper(string(v))
	switch v {
	case VerdictReady:
		return st.pass.Render(label)
	case VerdictBroken:
		return st.err.Render(label)
	}
	return st.fail.Render(label)
}

// Markdown renders r for issue trackers.
func Markdown(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Backend verification: %s\n\n", strings.ToUpper(string(r.Verdict)))
	if r.RunID != "" {
		fmt.Fprintf(&b, "Run `%s`", r.RunID)
		if !r.FinishedAt.IsZero() {
			fmt.Fprintf(&b, " finished %s", r.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "| passed | failed | errors | total |\n|---|---|---|---|\n| %d | %d | %d | %d |\n\n",
		r.PassCount, r.FailCount, r.ErrorCount, r.Total())

	if len(r.SecurityWarnings) > 0 {
		b.WriteString("### Security warnings\n\n")
		for _, sw := range r.SecurityWarnings {
			fmt.Fprintf(&b, "- **%s** (`%s`): %s\n", sw.CheckID, sw.Target, sw.Message)
		}
		b.WriteString("\n")
	}

	if len(r.MissingTargets) > 0 {
		b.WriteString("### Missing entities\n\n")
		for _, t := range r.MissingTargets {
			fmt.Fprintf(&b, "- `%s`\n", t)
		}
		b.WriteString("\n")
	}

	var problems []probe.Result
	for _, res := range r.Results {
		if res.Status != probe.StatusPass {
			problems = append(problems, res)
		}
	}
	if len(problems) > 0 {
		b.WriteString("### Failed checks\n\n| check | status | message |\n|---|---|---|\n")
		for _, res := range problems {
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", res.CheckID, res.Status, escapeCell(res.Message))
		}
		b.WriteString("\n")
	}

	if r.Interrupted {
		fmt.Fprintf(&b, "_Run interrupted: %d checks not run._\n", r.NotRun)
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
