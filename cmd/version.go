package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is the release string. Builds overwrite it via:
//
//	go build -ldflags "-X github.com/derickschaefer/cicqte/cmd.Version=v0.2.0"
var Version = "v0.1.0"

// BuildTime is optionally injected at build time alongside Version.
var BuildTime = ""

// versionInfo is the structured payload for --format json output.
type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	BuildTime string `json:"build_time,omitempty"`
	Revision  string `json:"revision,omitempty"`
}

func currentVersion() versionInfo {
	info := versionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		BuildTime: BuildTime,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cicqte version and build information",
	Long: `Print the cicqte version string and build metadata.

Default output is plain text. Use --format json for structured output.

Examples:
  cicqte version
  cicqte version --format json | jq .version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentVersion()
		switch globalFlags.Format {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "jsonl":
			b, err := json.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
			return nil
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "cicqte %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "go     %s\n", info.GoVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "os     %s/%s\n", info.GOOS, info.GOARCH)
			if info.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built  %s\n", info.BuildTime)
			}
			if info.Revision != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s\n", info.Revision)
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
