package domain

// JWTClaims represents the decoded JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the caller carries the admin role.
func (c *JWTClaims) IsAdmin() bool {
	return c != nil && c.Role == "admin"
}
