package launcher

import "github.com/fatih/color"

var (
	infoColor    = color.New(color.FgCyan).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	headerColor  = color.New(color.FgGreen, color.Bold).SprintFunc()
	detailColor  = color.New(color.FgHiBlack).SprintFunc()
)
