package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"twpm/internal/config"
	"twpm/internal/store"
)

type versionInfo struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit" yaml:"commit"`
	Date     string `json:"date" yaml:"date"`
	Go       string `json:"go" yaml:"go"`
	Config   int    `json:"config_schema" yaml:"config_schema"`
	Manifest int    `json:"manifest_schema" yaml:"manifest_schema"`
}

func newVersionCmd(out *output) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build and schema versions",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:  config.Version,
				Commit:   config.Commit,
				Date:     config.Date,
				Go:       runtime.Version(),
				Config:   config.SchemaVersion,
				Manifest: store.ManifestVersion,
			}
			if out.structured() {
				return print(out, info, "")
			}
			fmt.Printf("tw %s (%s, %s)\n", info.Version, info.Commit, info.Date)
			fmt.Printf("go: %s\nschemas: config v%d, manifest v%d\n", info.Go, info.Config, info.Manifest)
			return nil
		},
	}
}
