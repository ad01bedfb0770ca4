package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is a permission carried by an operator token.
type Scope string

const (
	// ScopeRead allows balance and ledger lookups.
	ScopeRead Scope = "ledger:read"
	// ScopeWrite allows withdrawals, reversals and charges.
	ScopeWrite Scope = "ledger:write"
)

func (s Scope) IsValid() bool {
	return s == ScopeRead || s == ScopeWrite
}

// OperatorTokenPayload captures the data available when minting a JWT.
type OperatorTokenPayload struct {
	OperatorID string
	Scopes     []Scope
	JTI        string
}

// OperatorClaims represents the typed JWT presented by operator tools.
type OperatorClaims struct {
	Scopes []Scope `json:"scopes"`
	jwt.RegisteredClaims
}

// Has reports whether the token grants scope. Write implies read.
func (c *OperatorClaims) Has(scope Scope) bool {
	if c == nil {
		return false
	}
	if scope == ScopeRead && slices.Contains(c.Scopes, ScopeWrite) {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}
