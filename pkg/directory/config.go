// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const defaultTimeout = 10 * time.Second

// Mode selects how credentials are proven against the directory.
type Mode string

const (
	// ModeSimple binds directly as uid=<localpart>,<base>.
	ModeSimple Mode = "simple"

	// ModeSearch binds a service account, locates the user entry, then
	// re-binds with the entry DN and the supplied password.
	ModeSearch Mode = "search"
)

// Attributes maps logical profile fields to directory attribute names.
type Attributes struct {
	UID    string `mapstructure:"uid"`
	Name   string `mapstructure:"name"`
	Mail   string `mapstructure:"mail"`
	MSISDN string `mapstructure:"msisdn"`
}

// Values returns the configured attribute names, for search requests.
func (a Attributes) Values() []string {
	vals := make([]string, 0, 4)
	for _, v := range []string{a.UID, a.Name, a.Mail, a.MSISDN} {
		if v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

// Config holds the directory connection settings.
//
// Example TOML:
//
//	[directory]
//	enabled = true
//	uri = "ldaps://ldap.example.org:636"
//	base = "ou=people,dc=example,dc=org"
//	start_tls = false
//	timeout = "10s"
//
//	# Presence of bind_dn switches authentication to search mode.
//	bind_dn = "cn=readonly,dc=example,dc=org"
//	bind_password = "secret"
//	filter = "(objectClass=posixAccount)"
//
//	[directory.attributes]
//	uid = "uid"
//	name = "cn"
//	mail = "mail"
//	msisdn = "telephoneNumber"
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Base     string `mapstructure:"base"`
	StartTLS bool   `mapstructure:"start_tls"`

	BindDN       string `mapstructure:"bind_dn"`
	BindPassword string `mapstructure:"bind_password"`
	Filter       string `mapstructure:"filter"`

	Attributes Attributes `mapstructure:"attributes"`

	Timeout       time.Duration `mapstructure:"timeout"`
	TLSSkipVerify bool          `mapstructure:"tls_skip_verify"`
}

// Mode is derived, never configured: a service bind DN means search mode.
func (c *Config) Mode() Mode {
	if c.BindDN != "" {
		return ModeSearch
	}
	return ModeSimple
}

// Validate reports every missing required key in a single error so a bad
// deployment is fixed in one round trip.
func (c *Config) Validate() error {
	var missing []string
	if c.URI == "" {
		missing = append(missing, "uri")
	}
	if c.Base == "" {
		missing = append(missing, "base")
	}
	if c.Attributes.UID == "" {
		missing = append(missing, "attributes.uid")
	}
	if c.Attributes.Name == "" {
		missing = append(missing, "attributes.name")
	}
	if c.BindDN != "" && c.BindPassword == "" {
		missing = append(missing, "bind_password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("directory config missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// UserDN composes the bind DN used in simple mode.
func (c *Config) UserDN(localpart string) string {
	return fmt.Sprintf("%s=%s,%s", c.Attributes.UID, ldap.EscapeDN(localpart), c.Base)
}

// UserFilter builds the per-user search filter. The configured extra filter
// only applies in search mode, joined as a conjunction.
func (c *Config) UserFilter(localpart string) string {
	f := fmt.Sprintf("(%s=%s)", c.Attributes.UID, ldap.EscapeFilter(localpart))
	if c.Mode() == ModeSearch && c.Filter != "" {
		f = "(&" + f + c.Filter + ")"
	}
	return f
}

// TLSClientConfig is the config used for the StartTLS upgrade.
func (c *Config) TLSClientConfig() *tls.Config {
	cfg := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
	if u, err := url.Parse(c.URI); err == nil {
		cfg.ServerName = u.Hostname()
	}
	return cfg
}
