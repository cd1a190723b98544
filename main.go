package main

import (
	"fmt"
	"os"

	"github.com/tyemirov/railcap/cmd/cli"
	"github.com/tyemirov/railcap/internal/workflow"
)

const (
	exitErrorTemplateConstant = "%s\n"
)

// main executes the railcap command-line application.
func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, workflow.FormatOperationError(executionError))
		os.Exit(1)
	}
}
