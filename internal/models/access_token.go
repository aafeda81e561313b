package models

import (
	"log/slog"
	"time"
)

// expirySkew keeps a token from being handed out moments before it lapses.
const expirySkew = 10 * time.Second

// AccessToken is a short-lived bearer token for the push provider.
type AccessToken struct {
	Value  string
	Expiry time.Time
}

// ValidAt reports whether the token may still be used at now. Tokens without
// a known expiry are never considered valid for reuse.
func (t AccessToken) ValidAt(now time.Time) bool {
	if t.Value == "" || t.Expiry.IsZero() {
		return false
	}
	return now.Add(expirySkew).Before(t.Expiry)
}

// LogValue keeps the bearer value out of structured logs.
func (t AccessToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("value", "[redacted]"),
		slog.Time("expiry", t.Expiry),
	)
}

// ServiceIdentity is the service account used to sign token requests.
type ServiceIdentity struct {
	ClientEmail  string
	PrivateKeyID string
	PrivateKey   []byte
	ProjectID    string
	TokenURL     string
}

// LogValue keeps key material out of structured logs.
func (s ServiceIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_email", s.ClientEmail),
		slog.String("project_id", s.ProjectID),
	)
}
