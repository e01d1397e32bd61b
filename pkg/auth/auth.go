/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package auth issues and verifies the two credential forms of the API
// surface: HS256 bearer tokens and opaque workspace API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/config"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
)

// KeyPrefix is the public prefix of every API key.
const KeyPrefix = "mfk-"

// Identity is the authenticated caller, passed explicitly through handlers.
type Identity struct {
	TraceID     string
	UserID      string
	APIKeyID    string
	WorkspaceID string
	IP          string
}

// Claims is the bearer token payload.
type Claims struct {
	SessionId string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken mints an access token for a user session.
func IssueToken(userID, sessionID string) (string, error) {
	return issueToken(userID, sessionID, config.GetJWTAccessExpire())
}

// IssueRefreshToken mints the long-lived companion of an access token.
func IssueRefreshToken(userID, sessionID string) (string, error) {
	return issueToken(userID, sessionID, config.GetJWTRefreshExpire())
}

func issueToken(userID, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionId: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.GetJWTSecretKey()))
}

// VerifyToken parses and validates a bearer token. Only the configured
// algorithm is accepted; everything else reads as TOKEN_INVALID.
func VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(config.GetJWTSecretKey()), nil
	}, jwt.WithValidMethods([]string{config.GetJWTAlgorithm()}))
	if err != nil || !token.Valid {
		return nil, apierrors.NewTokenInvalid("token is invalid or expired")
	}
	if claims.Subject == "" {
		return nil, apierrors.NewTokenInvalid("token carries no subject")
	}
	return claims, nil
}

// GenerateAPIKey mints one opaque key and returns it with its stored hash
// and display hint. The plaintext is shown exactly once.
func GenerateAPIKey() (plaintext, hash, hint string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, HashAPIKey(plaintext), HintOf(plaintext), nil
}

// HashAPIKey is the stored form: HMAC-SHA256 keyed by the JWT secret.
func HashAPIKey(key string) string {
	mac := hmac.New(sha256.New, []byte(config.GetJWTSecretKey()))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// HintOf renders the display form: prefix, two leading characters, four
// trailing ones.
func HintOf(key string) string {
	body := key[len(KeyPrefix):]
	if len(body) < 6 {
		return KeyPrefix + "****"
	}
	return KeyPrefix + body[:2] + "****" + body[len(body)-4:]
}

// Store is the slice of the store client the authenticator consumes.
type Store interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*client.APIKey, error)
	TouchAPIKeyUsage(ctx context.Context, id string)
	GetMember(ctx context.Context, workspaceID, userID string) (*client.WorkspaceMember, error)
}

// Authenticator resolves credentials to identities.
type Authenticator struct {
	store Store
}

// New builds an authenticator over the store.
func New(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// AuthenticateAPIKey resolves an opaque key. Checks hash, active flag,
// expiry and the allowed-IP list, then bumps the usage counters.
func (a *Authenticator) AuthenticateAPIKey(ctx context.Context, key, ip string) (*Identity, error) {
	if len(key) <= len(KeyPrefix) || key[:len(KeyPrefix)] != KeyPrefix {
		return nil, apierrors.NewInvalidCredentials("malformed API key")
	}
	record, err := a.store.GetAPIKeyByHash(ctx, HashAPIKey(key))
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, apierrors.NewInvalidCredentials("unknown API key")
		}
		return nil, err
	}
	if !record.IsActive {
		return nil, apierrors.NewInvalidCredentials("API key is disabled")
	}
	if record.ExpiresAt.Valid && record.ExpiresAt.Time.Before(time.Now()) {
		return nil, apierrors.NewInvalidCredentials("API key has expired")
	}
	if !ipAllowed(record.AllowedIPs, ip) {
		klog.V(2).InfoS("API key used from disallowed address", "key", record.Id, "ip", ip)
		return nil, apierrors.NewForbidden("API key is not valid from this address")
	}
	a.store.TouchAPIKeyUsage(ctx, record.Id)
	return &Identity{APIKeyID: record.Id, WorkspaceID: record.WorkspaceId, IP: ip}, nil
}

// AuthenticateBearer resolves a bearer token to a user identity.
func (a *Authenticator) AuthenticateBearer(_ context.Context, token, ip string) (*Identity, error) {
	claims, err := VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, IP: ip}, nil
}

// AuthorizeWorkspace checks that the identity may act in the workspace: an
// API key must be scoped to it, a user must be a member.
func (a *Authenticator) AuthorizeWorkspace(ctx context.Context, identity *Identity, workspaceID string) error {
	if identity.APIKeyID != "" {
		if identity.WorkspaceID != workspaceID {
			return apierrors.NewForbidden("API key is scoped to another workspace")
		}
		return nil
	}
	if identity.UserID == "" {
		return apierrors.NewInvalidCredentials("no identity")
	}
	if _, err := a.store.GetMember(ctx, workspaceID, identity.UserID); err != nil {
		if apierrors.IsNotFound(err) {
			return apierrors.NewForbidden("not a member of this workspace")
		}
		return err
	}
	identity.WorkspaceID = workspaceID
	return nil
}

// ipAllowed checks ip against the stored allow list, a JSON array of exact
// addresses and CIDR blocks. An empty list allows everything.
func ipAllowed(allowed, ip string) bool {
	if allowed == "" || allowed == "[]" {
		return true
	}
	var entries []string
	if err := json.Unmarshal([]byte(allowed), &entries); err != nil {
		klog.ErrorS(err, "malformed allowed_ips list")
		return false
	}
	if len(entries) == 0 {
		return true
	}
	addr := net.ParseIP(ip)
	for _, entry := range entries {
		if entry == ip {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && addr != nil && cidr.Contains(addr) {
			return true
		}
	}
	return false
}
