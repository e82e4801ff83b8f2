package imap

import "fmt"

// xoauth2Client implements the SASL XOAUTH2 mechanism (Google's
// extension, documented at developers.google.com/gmail/imap/xoauth2).
// go-sasl ships PLAIN/LOGIN/OAUTHBEARER but not XOAUTH2 itself, and
// Gmail's IMAP endpoint only advertises XOAUTH2 — not OAUTHBEARER.
type xoauth2Client struct {
	username    string
	accessToken string
}

// NewXOAuth2Client returns a sasl.Client that authenticates with a
// Gmail access token instead of a password.
func NewXOAuth2Client(username, accessToken string) *xoauth2Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken))
	return "XOAUTH2", ir, nil
}

// Next handles the server's one possible challenge: a JSON error blob
// sent in place of a plain "go ahead". Any non-empty challenge is
// treated as a rejection and returned as the error, carrying the
// server's error text (spec.md §4.3, §7 Auth errors); an empty
// challenge gets an empty response.
func (c *xoauth2Client) Next(challenge []byte) (response []byte, err error) {
	if len(challenge) > 0 {
		return nil, fmt.Errorf("xoauth2: server rejected credentials: %s", challenge)
	}
	return []byte{}, nil
}
