package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates an Output for cmd, honouring its --json flag.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && w == os.Stdout && isTerminal(),
	}
}

func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON reports whether JSON output was requested.
func (o *Output) IsJSON() bool { return o.jsonMode }

// JSON writes data as indented JSON.
func (o *Output) JSON(data any) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Println prints a message with newline.
func (o *Output) Println(args ...any) {
	fmt.Fprintln(o.writer, args...)
}

// Bold prints a bold header line.
func (o *Output) Bold(format string, args ...any) { o.colored(ColorBold, format, args...) }

// Success prints a message in green.
func (o *Output) Success(format string, args ...any) { o.colored(ColorGreen, format, args...) }

// Warning prints a message in yellow.
func (o *Output) Warning(format string, args ...any) { o.colored(ColorYellow, format, args...) }

// Error prints a message in red.
func (o *Output) Error(format string, args ...any) { o.colored(ColorRed, format, args...) }

// Dim prints a de-emphasised message.
func (o *Output) Dim(format string, args ...any) { o.colored(ColorDim, format, args...) }

func (o *Output) colored(color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.colorEnabled {
		msg = color + msg + ColorReset
	}
	fmt.Fprintln(o.writer, msg)
}

// Table renders aligned columns.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table with the given headers.
func NewTable(o *Output, headers ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(o.writer, 0, 0, 2, ' ', 0)}
	t.AddRow(headers...)
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("─", len([]rune(h)))
	}
	t.AddRow(dashes...)
	return t
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

// Render flushes the table.
func (t *Table) Render() error {
	return t.tw.Flush()
}
