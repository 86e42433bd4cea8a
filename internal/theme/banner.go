// Package theme renders the CLI banner and status colours.
package theme

import (
	"fmt"
	"io"
	"strings"

	"beacon/internal/auth"

	"github.com/fatih/color"
)

var (
	beamColor  = color.New(color.FgYellow, color.Bold)
	towerColor = color.New(color.FgCyan)
	waveColor  = color.New(color.FgBlue)
	titleColor = color.New(color.FgMagenta, color.Bold)

	OK   = color.New(color.FgGreen)
	Warn = color.New(color.FgYellow)
	Bad  = color.New(color.FgRed, color.Bold)
	Dim  = color.New(color.FgHiBlack)
)

// Banner returns the lighthouse banner.
func Banner() string {
	var b strings.Builder
	b.WriteString(beamColor.Sprint("   \\  |  /      ") + titleColor.Sprint("BEACON") + "\n")
	b.WriteString(beamColor.Sprint(" -- ") + towerColor.Sprint("[ * ]") + beamColor.Sprint(" --") + "\n")
	b.WriteString(towerColor.Sprint("     |#|        ") + Dim.Sprint("scheduled signals for X") + "\n")
	b.WriteString(towerColor.Sprint("    /###\\") + "\n")
	b.WriteString(waveColor.Sprint("~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~") + "\n")
	return b.String()
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}

// State colours a credential state for display.
func State(s auth.State) string {
	switch s {
	case auth.Authenticated:
		return OK.Sprint(s.String())
	case auth.Expired, auth.Refreshing, auth.Authenticating:
		return Warn.Sprint(s.String())
	default:
		return Bad.Sprint(s.String())
	}
}
