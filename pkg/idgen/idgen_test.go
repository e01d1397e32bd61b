/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package idgen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^WFL-[0-9A-F]{16}$`)
	for i := 0; i < 100; i++ {
		id := New(PrefixWorkflow)
		require.True(t, pattern.MatchString(id), "unexpected id %q", id)
	}
}

func TestNewShortPrefix(t *testing.T) {
	id := New(PrefixDatabase)
	assert.True(t, strings.HasPrefix(id, "DB-"))
	assert.True(t, Valid(id, PrefixDatabase))
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := New(PrefixExecution)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q after %d draws", id, i)
		seen[id] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		id     string
		prefix string
		want   bool
	}{
		{"WSP-0123456789ABCDEF", PrefixWorkspace, true},
		{"WSP-0123456789abcdef", PrefixWorkspace, false},
		{"WSP-0123456789ABCDE", PrefixWorkspace, false},
		{"WSP-0123456789ABCDEFF", PrefixWorkspace, false},
		{"WFL-0123456789ABCDEF", PrefixWorkspace, false},
		{"WSP_0123456789ABCDEF", PrefixWorkspace, false},
		{"", PrefixWorkspace, false},
		{"DB-0123456789ABCDEF", PrefixDatabase, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Valid(tc.id, tc.prefix), "id %q prefix %q", tc.id, tc.prefix)
	}
}

func TestPrefixOf(t *testing.T) {
	assert.Equal(t, "EXC", PrefixOf("EXC-0123456789ABCDEF"))
	assert.Equal(t, "DB", PrefixOf("DB-0123456789ABCDEF"))
	assert.Equal(t, "", PrefixOf("bogus"))
	assert.Equal(t, "", PrefixOf("exc-0123456789ABCDEF"))
}
