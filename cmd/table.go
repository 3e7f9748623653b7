package cmd

import "github.com/pterm/pterm"

// PrintTableNoPad renders a property table without boxed padding.
func PrintTableNoPad(data pterm.TableData, hasHeader bool) {
	table := pterm.DefaultTable.WithData(data)
	if hasHeader {
		table = table.WithHasHeader()
	}
	if err := table.Render(); err != nil {
		pterm.Error.Printf("failed to render table: %v\n", err)
	}
}
