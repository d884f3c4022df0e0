package models

import "github.com/golang-jwt/jwt/v5"

// Operator token scopes recognized by the admin API.
const (
	TokenScopeAdmin = "admin"
)

// OperatorClaims are the JWT claims carried by operator tokens. Tokens are
// minted out-of-band (cmd/admintoken) with the shared admin secret; the
// service only validates them.
type OperatorClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}
