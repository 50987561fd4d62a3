// Package userdirectory is the in-memory whitelist-based user
// authenticator (C7). It is sourced once from configuration at startup
// and never mutated afterward.
package userdirectory

import (
	"fmt"
	"strings"

	"github.com/kubermatic/kube-workspace-operator/pkg/config"
	"github.com/kubermatic/kube-workspace-operator/pkg/errors"
)

// User is a verified whitelist entry.
type User struct {
	Username     string
	SSHPublicKey string
}

// Directory is a read-only, in-memory whitelist keyed by username.
type Directory struct {
	users map[string]config.User
}

// New builds a Directory from the configured whitelist. Uniqueness by
// username is assumed to already hold (config.Load enforces it).
func New(users []config.User) *Directory {
	m := make(map[string]config.User, len(users))
	for _, u := range users {
		m[u.Username] = u
	}
	return &Directory{users: m}
}

// Verify looks up username and compares the presented public key,
// trimmed of surrounding whitespace on both sides, for byte equality
// against the whitelisted key. The comparison is not constant-time;
// the threat model is a whitelist, not a hostile verifier.
func (d *Directory) Verify(username, publicKey string) (User, error) {
	candidate, ok := d.users[username]
	if !ok {
		return User{}, fmt.Errorf("%w: unknown user %q", errors.ErrAuthFailure, username)
	}

	want := strings.TrimSpace(candidate.SSHPublicKey)
	got := strings.TrimSpace(publicKey)
	if want != got {
		return User{}, fmt.Errorf("%w: public key mismatch for user %q", errors.ErrAuthFailure, username)
	}

	return User{Username: candidate.Username, SSHPublicKey: candidate.SSHPublicKey}, nil
}
