package cli

import (
	"io"
	"os"

	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/carrierhub/provisioner/internal/provisioner/steps"
)

func printOutcome(out *project.Outcome) {
	if jsonOutput {
		printJSON(out)
		return
	}
	printSteps(os.Stdout, out.Steps)
	if len(out.Rollback) > 0 {
		errorLabel.Fprintln(os.Stdout, "rollback:")
		printSteps(os.Stdout, out.Rollback)
	}
}

// printSteps writes one status line per step result.
func printSteps(w io.Writer, results []steps.Result) {
	for _, r := range results {
		if r.OK {
			okLabel.Fprintf(w, "[OK] ")
		} else {
			errorLabel.Fprintf(w, "[ERROR] ")
		}
		io.WriteString(w, r.Name+": "+r.Msg+"\n")
	}
}
