package urlutil

import (
	"encoding/base64"
	"fmt"
	"net/url"
)

// BasicAuth holds credentials embedded in a URL as user:pass@host.
type BasicAuth struct {
	Host     string
	Username string
	Password string
}

// Header returns the Authorization header value for the credentials.
func (b BasicAuth) Header() string {
	token := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	return "Basic " + token
}

// StripCredentials removes user:pass@ from rawURL. The returned BasicAuth is
// nil when the URL carried no credentials.
func StripCredentials(rawURL string) (string, *BasicAuth, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse URL %q: %w", rawURL, err)
	}
	if parsed.User == nil {
		return rawURL, nil, nil
	}

	password, _ := parsed.User.Password()
	auth := &BasicAuth{
		Host:     parsed.Hostname(),
		Username: parsed.User.Username(),
		Password: password,
	}
	parsed.User = nil
	return parsed.String(), auth, nil
}
