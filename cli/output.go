package cli

import (
	"io"
	"os"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// setupStyling turns pterm colors off when output is redirected.
func setupStyling(w io.Writer) {
	if !isTerminal(w) {
		pterm.DisableStyling()
	}
}

// readInput reads a file, or stdin for "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.New(ErrReadFailed, "failed to read input", err).AddContext("path", path)
	}
	return data, nil
}

// renderTable renders rows, the first being the header.
func renderTable(w io.Writer, rows [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out+"\n")
	return err
}
