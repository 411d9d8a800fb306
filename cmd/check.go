// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/auth"
	"github.com/voxgate/dirauth/pkg/lockout"
	"github.com/voxgate/dirauth/pkg/logger"
	"github.com/voxgate/dirauth/pkg/utils"
)

// CheckOpts holds the flag-driven settings for the check command.
type CheckOpts struct {
	Password   string
	LogLevel   string
	ServerName string
}

var checkCmd = &cobra.Command{
	Use:   "check <user>",
	Short: "Check one credential against the directory",
	Long: `Check a single identifier and password against the configured
directory and print the decision. The check runs against a throwaway
account store and never records lockout state, so it is safe to use
against production directories.

The password comes from --password, the DIRAUTH_PASSWORD environment
variable, or an interactive prompt, in that order.`,
	Args: cobra.ExactArgs(1),
	Run:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	f := checkCmd.Flags()
	f.String("password", "", "Password to check (prefer DIRAUTH_PASSWORD or the prompt)")
	f.String("log_level", "warn", "Log level (debug, info, warn, error, fatal)")
	f.String("server_name", "localhost", "Server name used to qualify user IDs")

	viper.BindPFlags(f)
}

func loadCheckOpts(cmd *cobra.Command) CheckOpts {
	f := NewFlagLoader(cmd)
	return CheckOpts{
		Password:   f.String("password"),
		LogLevel:   f.String("log_level"),
		ServerName: f.String("server_name"),
	}
}

func runCheck(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("dirauth", false)
	opts := loadCheckOpts(cmd)
	user := args[0]

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	var authCfg auth.Config
	if err := viper.UnmarshalKey("directory", &authCfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse directory config")
	}
	if err := authCfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid directory config")
	}

	password, err := resolvePassword(opts.Password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read password")
	}

	ctx := cmd.Context()

	// Peek at shared lockout state before touching the directory. The
	// check itself never records failures.
	if authCfg.Lockout.Enabled() && viper.IsSet("lockout_store") {
		var storeCfg lockout.RedisConfig
		if err := viper.UnmarshalKey("lockout_store", &storeCfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to parse lockout_store config")
		}
		if storeCfg.Enabled {
			tracker, err := lockout.NewRedisTracker(storeCfg, authCfg.Lockout)
			if err != nil {
				logger.Fatal().Err(err).Str("addr", storeCfg.Addr).Msg("failed to connect lockout store")
			}
			locked, remaining := tracker.IsLocked(ctx, auth.LocalPart(user), time.Now())
			tracker.Close()
			if locked {
				fmt.Printf("locked out: try again %s\n", humanize.Time(time.Now().Add(remaining)))
				os.Exit(1)
			}
		}
	}

	authenticator, err := auth.New(authCfg, account.NewMemoryStore(opts.ServerName), auth.Options{
		ServerName: opts.ServerName,
		Tracker:    lockout.NoopTracker{},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build authenticator")
	}

	result, err := authenticator.Authenticate(ctx, user, password)
	if err != nil {
		logger.Fatal().Err(err).Msg("credential check failed")
	}
	if !result.Accepted {
		fmt.Println("rejected")
		os.Exit(1)
	}

	if result.DisplayName != "" {
		fmt.Printf("accepted: %s (%s)\n", result.UserID, result.DisplayName)
	} else {
		fmt.Printf("accepted: %s\n", result.UserID)
	}
}

// resolvePassword picks the password from the flag, the environment, or
// an interactive prompt, in that order.
func resolvePassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("DIRAUTH_PASSWORD"); env != "" {
		return env, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
