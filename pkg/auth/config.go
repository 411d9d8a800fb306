// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"

	"github.com/voxgate/dirauth/pkg/directory"
	"github.com/voxgate/dirauth/pkg/lockout"
)

// Config is the full login provider configuration: the directory connection
// settings plus the optional account lockout policy nested under the same
// block, the shape deployments have always used.
//
// Example TOML:
//
//	[directory]
//	uri = "ldap://ldap.example.org"
//	base = "ou=people,dc=example,dc=org"
//	start_tls = true
//
//	[directory.attributes]
//	uid = "uid"
//	name = "cn"
//
//	[directory.account_lockout_policy]
//	attempts = 3
//	locktime_s = 60
type Config struct {
	directory.Config `mapstructure:",squash"`

	Lockout *lockout.Policy `mapstructure:"account_lockout_policy"`
}

// Validate checks the directory settings and the lockout policy together and
// reports every missing key at once.
func (c *Config) Validate() error {
	return errors.Join(c.Config.Validate(), c.Lockout.Validate())
}
