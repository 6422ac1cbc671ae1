package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assemblyline/internal/assembly"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.Und)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stateColor(state assembly.State) string {
	switch state {
	case assembly.StateCompleted:
		return ansiGreen
	case assembly.StateFailed:
		return ansiRed
	case assembly.StateProcessing:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func renderState(state assembly.State, colorize bool) string {
	label := strings.ToUpper(string(state))
	if !colorize {
		return label
	}
	return stateColor(state) + label + ansiReset
}

func passFail(passed, optional, colorize bool) string {
	label, color := "OK", ansiGreen
	switch {
	case !passed && optional:
		label, color = "WARN", ansiYellow
	case !passed:
		label, color = "FAIL", ansiRed
	}
	if !colorize {
		return label
	}
	return color + label + ansiReset
}

// humanizeStep turns step names such as "makePreview" or "make_preview" into
// "Make Preview".
func humanizeStep(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "-"
	}
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return titleCaser.String(strings.Join(strings.Fields(b.String()), " "))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
