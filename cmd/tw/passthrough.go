package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"twpm/internal/config"
)

const (
	exitNotFound    = 127
	exitInterrupted = 130

	// passthroughEnv marks a child started by passthrough so a wrapper
	// chain that leads back to tw cannot loop.
	passthroughEnv = "TW_PASSTHROUGH"
)

// shouldPassthrough reports whether args name something other than a tw
// command. Flags, help and completion always stay with tw.
func shouldPassthrough(root *cobra.Command, args []string) bool {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return false
	}
	switch args[0] {
	case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	for _, c := range root.Commands() {
		if c.Name() == args[0] || c.HasAlias(args[0]) {
			return false
		}
	}
	return true
}

// nextWrapper is TW_NEXT_WRAPPER, else the configured wrapper, else task.
func nextWrapper() string {
	if v := strings.TrimSpace(os.Getenv("TW_NEXT_WRAPPER")); v != "" {
		return v
	}
	if cfg, err := config.Load(config.DefaultConfigPath()); err == nil && cfg.Registry.NextWrapper != "" {
		return cfg.Registry.NextWrapper
	}
	return config.DefaultNextWrapper
}

// passthrough runs the next wrapper with args and returns its exit code.
func passthrough(args []string) int {
	if os.Getenv(passthroughEnv) != "" {
		fmt.Fprintf(os.Stderr, "tw: %q is not a tw command and the next wrapper leads back to tw\n", args[0])
		return exitNotFound
	}
	wrapper := nextWrapper()
	path, err := exec.LookPath(wrapper)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tw: %q is not a tw command and %s was not found: %v\n", args[0], wrapper, err)
		return exitNotFound
	}

	cmd := exec.Command(path, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(), passthroughEnv+"=1")

	// The child shares the terminal and receives interrupts itself; tw
	// only has to outlive it to report the status.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "tw: start %s: %v\n", path, err)
		return exitNotFound
	}
	err = cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return exitInterrupted
	}
	fmt.Fprintf(os.Stderr, "tw: %s: %v\n", path, err)
	return 1
}
