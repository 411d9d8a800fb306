// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinHostPort(t *testing.T) {
	assert.Equal(t, ":8090", JoinHostPort("", 8090))
	assert.Equal(t, "10.0.0.5:8090", JoinHostPort("10.0.0.5", 8090))
	assert.Equal(t, "[::1]:8090", JoinHostPort("::1", 8090))
	assert.Equal(t, "[::1]:8090", JoinHostPort("[::1]", 8090))
}

func TestHostWithDefaultPort(t *testing.T) {
	assert.Equal(t, "", HostWithDefaultPort("", "9092"))
	assert.Equal(t, "kafka-1:9092", HostWithDefaultPort("kafka-1", "9092"))
	assert.Equal(t, "kafka-1:29092", HostWithDefaultPort("kafka-1:29092", "9092"))
	assert.Equal(t, "[::1]:9092", HostWithDefaultPort("::1", "9092"))
	assert.Equal(t, "[::1]:9092", HostWithDefaultPort("[::1]", "9092"))
}
