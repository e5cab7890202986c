// Copyright (c) 2026 Tigera, Inc. All rights reserved.
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

package commands

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/projectcalico/sbfilter/config"
	"github.com/projectcalico/sbfilter/logutils"
)

var (
	cfg      *config.Config
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sbfilter-replay",
	Short: "Replays southbound row changes through the replication filter",
	Long: `sbfilter-replay runs scenarios of southbound database rows and local
port bindings through the datapath registry and replication filter, and shows
the replication conditions that result from each cycle.

Settings are read from SBFILTER_* environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.FromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logutils.ConfigureLogging(cfg.LogLevel)
		log.WithField("config", cfg).Debug("Loaded configuration")
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level, overrides SBFILTER_LOG_LEVEL")
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the root command and logs the error it fails with, if any.
func execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Error("sbfilter-replay failed")
	}
	return err
}
