package diag

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Printer formats kernel census output with thousands separators, the
// pretty-printing collaborator spec §1 names as external to the core and
// the concrete home given to biscuit's otherwise-unused x/text dependency.
type Printer struct {
	p *message.Printer
}

// NewPrinter builds an English-locale printer. The core never depends on
// locale selection; it's fixed the way a CLI pretty-printer would be.
func NewPrinter() *Printer {
	return &Printer{p: message.NewPrinter(language.English)}
}

// Fprintf writes a formatted, thousands-separated line to w.
func (pr *Printer) Fprintf(w io.Writer, format string, args ...interface{}) (int, error) {
	return pr.p.Fprintf(w, format, args...)
}

// Sprintf formats a thousands-separated string.
func (pr *Printer) Sprintf(format string, args ...interface{}) string {
	return pr.p.Sprintf(format, args...)
}
