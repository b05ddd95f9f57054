// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/bastion/database"
	"github.com/blinklabs-io/bastion/internal/config"
	"github.com/spf13/cobra"
)

var exportFlags = struct {
	output  string
	encrypt bool
}{}

func exportRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()

	db, err := database.New(logger, cfg.DataDir, nil)
	if err != nil {
		slog.Error(fmt.Sprintf("opening database: %s", err))
		os.Exit(1)
	}
	defer db.Close()

	out, err := db.Export(exportFlags.encrypt)
	if err != nil {
		slog.Error(fmt.Sprintf("exporting state: %s", err))
		os.Exit(1)
	}
	if exportFlags.output == "" || exportFlags.output == "-" {
		fmt.Println(string(out))
		return
	}
	if err := os.WriteFile(exportFlags.output, out, 0o600); err != nil {
		slog.Error(fmt.Sprintf("writing export file: %s", err))
		os.Exit(1)
	}
	logger.Info(
		"wrote state export to "+exportFlags.output,
		"component", programName,
	)
}

func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted engine state as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			exportRun(cmd, args, cfg)
		},
	}
	cmd.Flags().
		StringVarP(&exportFlags.output, "output", "o", "", "output file path, '-' or empty for stdout")
	cmd.Flags().
		BoolVar(&exportFlags.encrypt, "encrypt", false, "encrypt export with SOPS")
	return cmd
}
