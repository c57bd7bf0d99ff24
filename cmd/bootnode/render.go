package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	core "github.com/3cpo-dev/bootnode/internal/core"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderStatus(status api.RunStatus, stage api.Stage) string {
	switch status {
	case api.RunSucceeded:
		return okStyle.Render(string(status))
	case api.RunFailed:
		return failStyle.Render(fmt.Sprintf("%s at %s", status, stage))
	default:
		return fmt.Sprintf("%s (%s)", status, stage)
	}
}

// renderSummary prints the outcome of a provisioning run.
func renderSummary(w io.Writer, res *core.Result, runErr error) {
	if res == nil {
		return
	}
	status := api.RunSucceeded
	if runErr != nil {
		status = api.RunFailed
	}
	rows := []string{titleStyle.Render(res.Request.Name) + "  " + renderStatus(status, res.Stage)}
	field := func(label, value string) {
		if value != "" {
			rows = append(rows, labelStyle.Render(label)+value)
		}
	}
	field("region", res.Request.Region)
	field("image", res.Request.Image)
	field("instance", res.InstanceID)
	field("address", res.Address)
	if res.KeyWritten {
		field("key", res.KeyPath)
	}
	if res.PollQueries > 0 {
		field("polls", fmt.Sprint(res.PollQueries))
	}
	for _, d := range res.Diagnostics {
		rows = append(rows, warnStyle.Render("! "+d.String()))
	}
	if runErr != nil {
		rows = append(rows, failStyle.Render("error: ")+strings.TrimSpace(runErr.Error()))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(rows, "\n")))
	if runErr == nil && res.BootstrapOutput != "" {
		fmt.Fprint(w, res.BootstrapOutput)
	}
}
