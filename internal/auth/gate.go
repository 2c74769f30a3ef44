// Package auth decides which clients may connect and issues session tokens
// for the HTTP surface.
package auth

import (
	"crypto/subtle"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// Tables maps identifiers to passphrases per client type. A nil table leaves
// that client type open; an empty, non-nil table rejects everyone.
//
// A passphrase may be stored as a bcrypt hash ("$2a$...", "$2b$...",
// "$2y$...") instead of plain text.
type Tables struct {
	Frontend   map[string]string
	Management map[string]string
}

func (t Tables) clone() *Tables {
	return &Tables{Frontend: maps.Clone(t.Frontend), Management: maps.Clone(t.Management)}
}

// Gate validates client credentials against the configured tables. Tables
// can be swapped at runtime with Update.
type Gate struct {
	tables atomic.Pointer[Tables]
	logger zerolog.Logger
}

// NewGate creates a gate for the given tables
func NewGate(t Tables) *Gate {
	g := &Gate{logger: log.WithComponent("auth")}
	g.tables.Store(t.clone())
	return g
}

// Update replaces the credential tables
func (g *Gate) Update(t Tables) {
	g.tables.Store(t.clone())
	g.logger.Info().Msg("Authentication tables updated")
}

// Validate reports whether a client may authenticate. When rejectFrontend is
// set, frontend clients are refused regardless of their credentials.
func (g *Gate) Validate(clientType protocol.ClientType, identifier, secret string, rejectFrontend bool) bool {
	logger := g.logger.With().Str("identifier", identifier).Logger()
	tables := g.tables.Load()

	var table map[string]string
	switch clientType {
	case protocol.ClientTypeFrontend:
		if rejectFrontend {
			logger.Trace().Msg("Frontend clients rejected for this request")
			return false
		}
		table = tables.Frontend
	case protocol.ClientTypeManagement:
		table = tables.Management
	default:
		logger.Warn().Str("client_type", string(clientType)).Msg("Unrecognized client type")
		return false
	}

	if table == nil {
		logger.Trace().Str("client_type", string(clientType)).Msg("No auth table configured; open auth")
		return true
	}
	if secret == "" {
		logger.Trace().Msg("No passphrase provided")
		return false
	}

	expected, ok := table[identifier]
	if !ok || !passphraseMatches(expected, secret) {
		logger.Trace().Msg("Passphrase does not match")
		return false
	}

	logger.Trace().Msg("Passphrase matches")
	return true
}

func passphraseMatches(expected, secret string) bool {
	if isBcryptHash(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(secret)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(expected)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
