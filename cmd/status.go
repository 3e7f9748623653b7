package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/skimmr/cli/pkg/status"
	"github.com/skimmr/cli/pkg/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the Skimmr service is reachable and the credential accepted",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "", "Output format (json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	rt.session.LoadPersistedSession(cmd.Context())
	rt.monitor.ForceServerCheck(cmd.Context())
	st := rt.monitor.GetStatus()

	if output == "json" {
		return util.PrintPrettyJSON(st)
	}

	printServerStatus(st)
	return nil
}

var statusDisplay = map[string]struct {
	label string
	rgb   pterm.RGB
}{
	"online":      {label: "Online", rgb: pterm.NewRGB(31, 163, 130)},
	"rejected":    {label: "Credential Rejected", rgb: pterm.NewRGB(245, 158, 11)},
	"degraded":    {label: "Degraded", rgb: pterm.NewRGB(242, 85, 51)},
	"unreachable": {label: "Unreachable", rgb: pterm.NewRGB(239, 68, 68)},
}

func classifyStatus(st status.ServerStatus) string {
	switch {
	case !st.Reachable:
		return "unreachable"
	case st.AuthValid == status.AuthInvalid:
		return "rejected"
	case st.Errored || st.AuthValid == status.AuthUnknown:
		return "degraded"
	default:
		return "online"
	}
}

func coloredDot(rgb pterm.RGB) string {
	return rgb.Sprint("●")
}

func printServerStatus(st status.ServerStatus) {
	d := statusDisplay[classifyStatus(st)]

	pterm.Println()
	pterm.Printf("  %s %s\n", coloredDot(d.rgb), pterm.Bold.Sprint("Skimmr: ")+d.rgb.Sprint(d.label))
	pterm.Println()

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Reachable", fmt.Sprintf("%t", st.Reachable)})
	rows = append(rows, []string{"Credential", string(st.AuthValid)})
	code := "-"
	if st.HTTPStatusCode != nil {
		code = fmt.Sprintf("%d", *st.HTTPStatusCode)
	}
	rows = append(rows, []string{"HTTP status", code})
	rows = append(rows, []string{"Last checked", util.FormatLocal(st.LastCheckedAt)})
	if !st.Reachable {
		reason := lo.Ternary(st.TimedOut, "timed out", "transport error")
		rows = append(rows, []string{"Failure", reason})
	}
	PrintTableNoPad(rows, true)
	pterm.Println()
}
