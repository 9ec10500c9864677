// Command orchestratord runs the task-orchestration engine's HTTP
// front-end, wiring every collaborator package into one long-running
// process, generalized from the teacher's cmd/gateway/main.go wiring
// idiom: explicit dependency construction, no DI framework.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			if code.ExitCode() != 130 {
				fmt.Fprintln(os.Stderr, err)
			}
			return code.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// exitCoder lets a command signal a specific process exit code (bind
// error vs. generic fatal init error) without main() inspecting error
// strings.
type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orchestratord",
		Short:         "Runs the task-orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newConfigCommand(&configPath))
	return root
}
