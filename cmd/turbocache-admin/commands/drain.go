package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/turbocache/internal/cliprompt"
)

var (
	drainPIDFile string
	drainForce   bool
)

var drainCmd = &cobra.Command{
	Use:   "drain --pid-file <path>",
	Short: "Signal a worker process to stop accepting new actions and shut down",
	Long: `drain reads the PID a "turbocache worker --pid-file ..." process wrote
on startup and sends it SIGTERM, the same graceful-shutdown signal a
Ctrl+C or process supervisor stop would send, after an interactive
confirmation (skippable with --force).

A worker currently has no distinct "stop accepting new actions but finish
in-flight ones" state; SIGTERM triggers the same shutdown path Ctrl+C does.`,
	RunE: runDrain,
}

func init() {
	drainCmd.Flags().StringVar(&drainPIDFile, "pid-file", "", "path to the worker's PID file")
	drainCmd.Flags().BoolVar(&drainForce, "force", false, "skip the confirmation prompt")
	_ = drainCmd.MarkFlagRequired("pid-file")
}

func runDrain(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(drainPIDFile)
	if err != nil {
		return fmt.Errorf("reading PID file %s: %w", drainPIDFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("PID file %s does not contain a valid PID: %w", drainPIDFile, err)
	}

	confirmed, err := cliprompt.ConfirmWithForce(fmt.Sprintf("Drain worker PID %d?", pid), drainForce)
	if err != nil {
		if errors.Is(err, cliprompt.ErrAborted) {
			fmt.Println("Aborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Drain canceled.")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to worker PID %d\n", pid)
	return nil
}
