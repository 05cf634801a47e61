package authsdk

// ErrorResponse is the JSON body of every error returned by the auth service.
type ErrorResponse struct {
	Error string `json:"error" example:"Not authorized"`
}

// UserResponse is returned by GET /api/auth/user for a verified token.
type UserResponse struct {
	// UserID is the provider's subject identifier
	UserID string `json:"userId" example:"42"`

	// Token echoes the bearer token that was verified
	Token string `json:"token"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string        `json:"status" example:"ok"`
	Uptime  string        `json:"uptime,omitempty" example:"1h2m3s"`
	Version string        `json:"version,omitempty" example:"1.0.0"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks contains the individual readiness checks.
type HealthChecks struct {
	Database    string `json:"database" example:"ok"`
	SigningKeys string `json:"signing_keys" example:"ok"`
}
