// Package console renders the human-facing lines of the xorsock binaries.
// Colors are only emitted when the output is a terminal.
package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes styled lines to one output.
type Printer struct {
	out io.Writer

	title  lipgloss.Style
	label  lipgloss.Style
	sent   lipgloss.Style
	ack    lipgloss.Style
	prompt lipgloss.Style
	hint   lipgloss.Style
	fail   lipgloss.Style
}

// New returns a Printer whose color support is detected from out.
func New(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:    out,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		label:  r.NewStyle().Bold(true),
		sent:   r.NewStyle().Foreground(lipgloss.Color("6")),
		ack:    r.NewStyle().Foreground(lipgloss.Color("2")),
		prompt: r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		hint:   r.NewStyle().Foreground(lipgloss.Color("3")),
		fail:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
}

// Banner prints a title followed by a hint line.
func (p *Printer) Banner(title, hint string) {
	fmt.Fprintln(p.out, p.title.Render(title))
	if hint != "" {
		fmt.Fprintln(p.out, p.hint.Render(hint))
	}
}

// Sent reports a message and the number of obfuscated bytes written for it.
func (p *Printer) Sent(message string, size int) {
	fmt.Fprintf(p.out, "%s %s %s\n",
		p.sent.Render("sent"),
		p.label.Render(message),
		p.hint.Render(fmt.Sprintf("(%d bytes)", size)))
}

// Ack reports a decoded acknowledgment.
func (p *Printer) Ack(ack string) {
	fmt.Fprintf(p.out, "%s  %s\n", p.ack.Render("ack"), ack)
}

// Prompt prints the interactive input marker without a newline.
func (p *Printer) Prompt() {
	fmt.Fprint(p.out, p.prompt.Render("→"), " ")
}

// Error reports a failure.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.out, "%s %v\n", p.fail.Render("error"), err)
}
