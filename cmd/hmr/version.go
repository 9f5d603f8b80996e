package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

type versionInfo struct {
	Version         string                 `json:"version"`
	Commit          string                 `json:"commit"`
	Built           string                 `json:"built"`
	GoVersion       string                 `json:"goVersion"`
	Platform        string                 `json:"platform"`
	ProtocolVersion int                    `json:"protocolVersion"`
	MessageTypes    []protocol.MessageType `json:"messageTypes"`
	EndpointPath    string                 `json:"endpointPath"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:         version,
		Commit:          commit,
		Built:           date,
		GoVersion:       runtime.Version(),
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		ProtocolVersion: protocol.Version,
		MessageTypes:    protocol.Types,
		EndpointPath:    hmr.DefaultPath,
	}
}

func versionCmd() *cobra.Command {
	var short, asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and protocol information",
		Long: `Print the hmr CLI build and the hot reload wire protocol it speaks.

Clients built against a different protocol version may misread updates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentVersion()
			out := cmd.OutOrStdout()

			switch {
			case short:
				fmt.Fprintln(out, info.Version)
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				fmt.Fprintf(out, "hmr %s (%s, built %s)\n", info.Version, info.Commit, info.Built)
				fmt.Fprintf(out, "  protocol  v%d: %v\n", info.ProtocolVersion, info.MessageTypes)
				fmt.Fprintf(out, "  endpoint  %s (ws), %s/client.js\n", info.EndpointPath, info.EndpointPath)
				fmt.Fprintf(out, "  runtime   %s %s\n", info.GoVersion, info.Platform)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}
