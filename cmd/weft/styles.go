package main

import "github.com/fatih/color"

var (
	errorStyle   = color.New(color.FgRed, color.Bold).SprintFunc()
	warnStyle    = color.New(color.FgYellow).SprintFunc()
	okStyle      = color.New(color.FgGreen).SprintFunc()
	headingStyle = color.New(color.Bold).SprintFunc()
	dimStyle     = color.New(color.Faint).SprintFunc()
)

// outcomeStyle colours an outcome label for summaries.
func outcomeStyle(outcome string) string {
	switch outcome {
	case "rewritten":
		return okStyle(outcome)
	case "failed":
		return errorStyle(outcome)
	default:
		return dimStyle(outcome)
	}
}
