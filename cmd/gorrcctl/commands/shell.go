package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const shellPrompt = "gorrcctl> "

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"context list [--cell <id>]", "List terminal contexts"},
	{"context show <cell> <rnti>", "Show details of a terminal context"},
	{"context release <cell> <rnti>", "Release a terminal context"},
	{"bearer setup <cell> <rnti> --qci <n>", "Request a data bearer"},
	{"bearer release <cell> <rnti> <drb>", "Release a data bearer"},
	{"handover <cell> <rnti> <target>", "Start an X2 handover"},
	{"monitor [--current]", "Stream context events"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gorrcctl shell",
		Long:  "Launches a simple REPL that accepts gorrcctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd.InOrStdin(), cmd.OutOrStdout(), func(args []string) error {
				rootCmd.SetArgs(args)
				return rootCmd.Execute()
			})
		},
	}
}

// runShell reads commands from in until EOF, exit or quit, handing every
// other non-empty line to exec.
func runShell(in io.Reader, out io.Writer, exec func(args []string) error) error {
	printShellBanner(out)
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, shellPrompt)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "exit" || line == "quit":
			return nil
		case line == "help" || line == "?":
			printShellHelp(out)
		case line == "shell":
			fmt.Fprintln(out, "already in the shell")
		case line != "":
			if err := exec(strings.Fields(line)); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}

		fmt.Fprint(out, shellPrompt)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	return nil
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner(out io.Writer) {
	fmt.Fprintln(out, "gorrc interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Fprintln(out)
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out)

	for _, cmd := range shellCommands {
		fmt.Fprintf(out, "  %-40s %s\n", cmd.name, cmd.desc)
	}

	fmt.Fprintln(out)
}
