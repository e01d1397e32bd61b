/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package idgen allocates the opaque, type-prefixed identifiers carried by
// every persisted entity.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Entity prefixes. An identifier is "<PREFIX>-" followed by 16 uppercase hex
// characters.
const (
	PrefixWorkspace       = "WSP"
	PrefixWorkflow        = "WFL"
	PrefixNode            = "NOD"
	PrefixEdge            = "EDG"
	PrefixTrigger         = "TRG"
	PrefixExecution       = "EXC"
	PrefixExecutionInput  = "EXI"
	PrefixExecutionOutput = "EXO"
	PrefixUser            = "USR"
	PrefixScript          = "SCR"
	PrefixCustomScript    = "CUS"
	PrefixVariable        = "VAR"
	PrefixCredential      = "CRD"
	PrefixDatabase        = "DB"
	PrefixFile            = "FIL"
	PrefixAPIKey          = "AKY"
	PrefixAgreement       = "AGR"
	PrefixRole            = "ROL"
	PrefixSession         = "SES"
	PrefixInvitation      = "INV"
	PrefixMember          = "MEM"
	PrefixPlan            = "PLN"
)

// suffixBytes random bytes render as 16 hex characters.
const suffixBytes = 8

var idPattern = regexp.MustCompile(`^[A-Z]{2,3}-[0-9A-F]{16}$`)

// New returns a fresh identifier for the given prefix. The suffix is drawn
// from crypto/rand; uniqueness is ultimately enforced by the store's unique
// constraint and callers retry the insert on collision.
func New(prefix string) string {
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("idgen: reading random bytes: %v", err))
	}
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(buf))
}

// Valid reports whether id is well formed and carries the given prefix.
func Valid(id, prefix string) bool {
	return idPattern.MatchString(id) && strings.HasPrefix(id, prefix+"-")
}

// PrefixOf returns the prefix of a well-formed identifier, or "".
func PrefixOf(id string) string {
	if !idPattern.MatchString(id) {
		return ""
	}
	return id[:strings.IndexByte(id, '-')]
}
