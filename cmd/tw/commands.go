package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"twpm/internal/app"
	"twpm/internal/twerr"
)

// commandContext is cancelled on SIGINT or SIGTERM so an interrupted
// installer is rolled back before tw exits.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newInstallCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	var opts app.InstallOptions
	cmd := &cobra.Command{
		Use:     "install <app>",
		Aliases: []string{"i", "add"},
		Short:   "Install an app from the registry",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := commandContext()
			defer cancel()
			res, err := svc.Install(ctx, args[0], opts)
			if out.structured() {
				return report(out, res, err)
			}
			warn(res.Warnings)
			if err != nil {
				return err
			}
			if opts.DryRun {
				printPlan(res)
				return nil
			}
			fmt.Printf("installed %s %s (%d files)\n", res.App, res.Version, len(res.Files))
			for _, p := range res.Untracked {
				fmt.Printf("  modified, not tracked: %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would be installed without changing anything")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "reinstall an app that is already installed")
	return cmd
}

func printPlan(res *app.InstallResult) {
	fmt.Printf("would install %s %s\n", res.App, res.Version)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range res.Planned {
		note := ""
		switch {
		case p.IsSymlink:
			note = "-> " + p.SymlinkTarget
		case p.Optional:
			note = "(optional)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", p.Role, p.Path, note)
	}
	_ = w.Flush()
	for _, r := range res.Requirements {
		fmt.Printf("  requires %s: %s\n", r.Requirement, r.Detail)
	}
}

func newRemoveCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <app>",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove an installed app and its files",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := commandContext()
			defer cancel()
			res, err := svc.Remove(ctx, args[0])
			if out.structured() {
				return report(out, res, err)
			}
			warn(res.Warnings)
			if err != nil {
				return err
			}
			if res.Partial {
				fmt.Printf("removed %d files of %s; %d could not be removed:\n", len(res.Removed), res.App, len(res.Failed))
				for _, f := range res.Failed {
					fmt.Printf("  %s: %s\n", f.Path, f.Error)
				}
				return nil
			}
			fmt.Printf("removed %s (%d files)\n", res.App, len(res.Removed))
			return nil
		},
	}
}

func newUpdateCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	return &cobra.Command{
		Use:     "update <app>",
		Aliases: []string{"up", "upgrade"},
		Short:   "Replace an installed app with the registry version",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := commandContext()
			defer cancel()
			res, err := svc.Update(ctx, args[0])
			if out.structured() {
				return report(out, res, err)
			}
			if res.Remove != nil {
				warn(res.Remove.Warnings)
			}
			if res.Install != nil {
				warn(res.Install.Warnings)
			}
			if err != nil {
				return err
			}
			if res.NoOp {
				fmt.Printf("%s is up to date (%s)\n", res.App, res.To)
				return nil
			}
			fmt.Printf("updated %s %s -> %s (%s)\n", res.App, res.From, res.To, res.Direction)
			return nil
		},
	}
}

func newListCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	var installedOnly bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registry apps and their install state",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.List(installedOnly)
			if err != nil {
				return err
			}
			if out.structured() {
				return print(out, res, "")
			}
			warn(res.Warnings)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tINSTALLED\tDESCRIPTION")
			installed := 0
			for _, a := range res.Apps {
				state := "-"
				if a.Installed {
					installed++
					state = a.InstalledVersion
					if a.UpdateAvailable {
						state += " (update available)"
					}
				}
				desc := a.Description
				if a.Error != "" {
					desc = "error: " + a.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Name, dash(a.Version), dash(a.Type), state, desc)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			p := message.NewPrinter(language.English)
			p.Printf("%d apps, %d installed\n", len(res.Apps), installed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&installedOnly, "installed", false, "only list installed apps")
	return cmd
}

func newInfoCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	return &cobra.Command{
		Use:   "info <app>",
		Short: "Show an app's descriptor, files and history",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Info(args[0])
			if err != nil {
				return err
			}
			if out.structured() {
				return print(out, res, "")
			}
			warn(res.Warnings)
			fmt.Printf("name:        %s\n", res.App)
			if d := res.Descriptor; d != nil {
				fmt.Printf("version:     %s\n", d.Version)
				fmt.Printf("type:        %s\n", d.Type)
				if d.Description != "" {
					fmt.Printf("description: %s\n", d.Description)
				}
				if src := d.Source(); src != "" {
					fmt.Printf("source:      %s\n", src)
				}
				if len(d.Requires) > 0 {
					reqs := make([]string, 0, len(d.Requires))
					for _, r := range d.Requires {
						reqs = append(reqs, r.String())
					}
					fmt.Printf("requires:    %s\n", strings.Join(reqs, ", "))
				}
			}
			if res.Installer != "" {
				fmt.Printf("installer:   %s\n", res.Installer)
			}
			if !res.Installed {
				fmt.Println("installed:   no")
				for _, p := range res.Planned {
					fmt.Printf("  would install %s (%s)\n", p.Path, p.Role)
				}
				return nil
			}
			fmt.Printf("installed:   %s\n", res.Version)
			for _, e := range res.Files {
				kind := e.Role
				if e.IsSymlink {
					kind += ", symlink"
				}
				fmt.Printf("  %s (%s)\n", e.Path, kind)
			}
			if n := len(res.History); n > 0 {
				last := res.History[n-1]
				fmt.Printf("last change: %s %s %s at %s\n", last.Operation, last.Phase, last.Status, last.Timestamp)
			}
			return nil
		},
	}
}

func newVerifyCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	var opts app.VerifyOptions
	cmd := &cobra.Command{
		Use:   "verify <app>",
		Short: "Check an app's installed files against the manifest",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := commandContext()
			defer cancel()
			res, err := svc.Verify(ctx, args[0], opts)
			if err == nil && !res.OK {
				err = twerr.New(twerr.ErrChecksumMismatch, "ORC_VERIFY", "%d of %d files of %s failed verification", len(res.Mismatched()), len(res.Files), res.App)
			}
			if out.structured() {
				return report(out, res, err)
			}
			warn(res.Warnings)
			for _, f := range res.Files {
				line := fmt.Sprintf("%s: %s", f.Path, f.Status)
				if f.Detail != "" {
					line += " (" + f.Detail + ")"
				}
				fmt.Println(line)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "also run the app installer's verify step")
	return cmd
}

func newDoctorCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			rep := svc.Doctor.Run(context.Background())
			var failure error
			if !rep.Healthy {
				failure = &exitError{code: twerr.ExitFailure, msg: "doctor found problems"}
			}
			if out.structured() {
				return report(out, rep, failure)
			}
			if len(rep.Findings) == 0 {
				fmt.Println("healthy")
				return nil
			}
			if rep.Healthy {
				fmt.Println("healthy, with warnings:")
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range rep.Findings {
				fmt.Printf("- [%s] %s\n", f.Code, f.Message)
			}
			return failure
		},
	}
}

func newBootstrapCmd(newSvc func() (*app.Service, error), out *output) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Check for Taskwarrior and prepare the install root",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := commandContext()
			defer cancel()
			res, err := svc.Bootstrap(ctx)
			if out.structured() {
				return report(out, res, err)
			}
			warn(res.Warnings)
			if err != nil {
				return err
			}
			fmt.Printf("task: %s %s\n", res.Task, res.TaskVersion)
			for _, dir := range res.CreatedDirs {
				fmt.Printf("created %s\n", dir)
			}
			if res.ConfigCreated {
				fmt.Printf("wrote %s\n", res.Config)
			}
			if res.TaskRCCreated {
				fmt.Printf("created %s\n", res.TaskRC)
			}
			fmt.Println("ready")
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
