package endpoint

import "github.com/syncbridge-io/syncbridge/internal/engine"

// DefaultSessionCookie is the cookie name used by session authenticators
// when none is given.
const DefaultSessionCookie = "SyncBridgeSession"

// Authenticator contributes credentials to a session's options blob.
// Engines read the credentials back out of the decoded options.
type Authenticator interface {
	ApplyOptions(opts map[string]any)
}

// BasicAuthenticator authenticates with a username and password.
type BasicAuthenticator struct {
	Username string
	Password string
}

// NewBasicAuthenticator creates a basic-credentials authenticator.
func NewBasicAuthenticator(username, password string) *BasicAuthenticator {
	return &BasicAuthenticator{Username: username, Password: password}
}

// ApplyOptions writes the credentials into the options map.
func (a *BasicAuthenticator) ApplyOptions(opts map[string]any) {
	opts[engine.OptionAuthType] = engine.AuthTypeBasic
	opts[engine.OptionAuthUsername] = a.Username
	opts[engine.OptionAuthPassword] = a.Password
}

// SessionAuthenticator authenticates with a pre-established session token
// delivered as a cookie.
type SessionAuthenticator struct {
	SessionID  string
	CookieName string
}

// NewSessionAuthenticator creates a session-cookie authenticator. An empty
// cookie name selects DefaultSessionCookie.
func NewSessionAuthenticator(sessionID, cookieName string) *SessionAuthenticator {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &SessionAuthenticator{SessionID: sessionID, CookieName: cookieName}
}

// ApplyOptions writes the session token into the options map.
func (a *SessionAuthenticator) ApplyOptions(opts map[string]any) {
	opts[engine.OptionAuthType] = engine.AuthTypeSession
	opts[engine.OptionAuthToken] = a.SessionID
	opts[engine.OptionCookieName] = a.CookieName
}
