package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"twpm/internal/app"
	"twpm/internal/debuglog"
	"twpm/internal/twerr"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: twerr.ExitUsage, msg: fmt.Sprintf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	if shouldPassthrough(root, args) {
		return passthrough(args)
	}
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return twerr.ExitOK
	}
	fmt.Fprintln(os.Stderr, err)
	if strings.HasPrefix(err.Error(), "unknown command ") {
		return twerr.ExitUsage
	}
	var ex ExitCoder
	if errors.As(err, &ex) {
		return ex.ExitCode()
	}
	return twerr.ExitCode(err)
}

// output carries the structured-output flags shared by every command.
type output struct {
	json bool
	yaml bool
}

func (o *output) structured() bool { return o.json || o.yaml }

type globals struct {
	configPath string
	debug      string
	wait       time.Duration
	command    string
	debugLevel *int
	out        output
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	newSvc := func() (*app.Service, error) {
		opts := app.Options{
			ConfigPath: g.configPath,
			DebugLevel: g.debugLevel,
			Command:    g.command,
			LockWait:   g.wait,
		}
		if !g.out.structured() {
			opts.Output = os.Stderr
		}
		return app.New(opts)
	}

	cmd := &cobra.Command{
		Use:           "tw",
		Short:         "Extension package manager for Taskwarrior",
		Long:          "tw installs, removes, updates and verifies Taskwarrior hooks and wrapper scripts.\nArguments that are not tw commands are passed to the next wrapper (task by default).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.out.json && g.out.yaml {
				return usageError("--json and --yaml are mutually exclusive")
			}
			g.command = cmd.CommandPath()
			if cmd.Flags().Changed("debug") {
				level, err := debuglog.ParseFlag(g.debug)
				if err != nil {
					return &exitError{code: twerr.ExitUsage, msg: err.Error(), err: err}
				}
				g.debugLevel = &level
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: twerr.ExitUsage, msg: err.Error(), err: err}
	})
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "path to config file (default $INSTALL_DIR/tw.toml)")
	flags.BoolVar(&g.out.json, "json", false, "output JSON")
	flags.BoolVar(&g.out.yaml, "yaml", false, "output YAML")
	flags.StringVar(&g.debug, "debug", "", "debug level 0-3 or mode on|hooks|trace")
	flags.Lookup("debug").NoOptDefVal = "1"
	flags.DurationVar(&g.wait, "wait", 0, "wait up to this long for another tw command to finish")

	cmd.AddCommand(newInstallCmd(newSvc, &g.out))
	cmd.AddCommand(newRemoveCmd(newSvc, &g.out))
	cmd.AddCommand(newUpdateCmd(newSvc, &g.out))
	cmd.AddCommand(newListCmd(newSvc, &g.out))
	cmd.AddCommand(newInfoCmd(newSvc, &g.out))
	cmd.AddCommand(newVerifyCmd(newSvc, &g.out))
	cmd.AddCommand(newDoctorCmd(newSvc, &g.out))
	cmd.AddCommand(newBootstrapCmd(newSvc, &g.out))
	cmd.AddCommand(newVersionCmd(&g.out))
	return cmd
}

// exactArgs is cobra.ExactArgs with the usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError("%s\nusage: %s", err, cmd.UseLine())
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError("%s takes no arguments\nusage: %s", cmd.Name(), cmd.UseLine())
	}
	return nil
}

func print(out *output, payload any, message string) error {
	switch {
	case out.json:
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
	case out.yaml:
		blob, err := yaml.Marshal(payload)
		if err != nil {
			return err
		}
		fmt.Print(string(blob))
	case message != "":
		fmt.Println(message)
	}
	return nil
}

// report prints payload in structured mode even when the command failed,
// so scripts can inspect partial results, then returns err.
func report(out *output, payload any, err error) error {
	if out.structured() && payload != nil {
		if perr := print(out, payload, ""); perr != nil && err == nil {
			return perr
		}
	}
	return err
}

func warn(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", strings.TrimSpace(w))
	}
}
