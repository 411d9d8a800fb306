// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/voxgate/dirauth/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "dirauth",
	Short: "dirauth - directory-backed authentication for homeservers",
	Long: `dirauth decides homeserver logins against an LDAP directory.
It verifies credentials in simple-bind or search+rebind mode, enforces an
account lockout policy, and reconciles directory profiles (display name,
email, phone) into the homeserver's account store.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
