package sanitize

import "net/url"

// trackingParams are query keys that carry no information about the
// link's destination, only about the campaign/click that produced it
// (spec.md §4.1's URL hygiene pass). This list only needs to be
// good-enough for the rendered plaintext; the original raw message
// always stays available for the real URL.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "utm_id": true,
	"gclid": true, "fbclid": true, "mc_cid": true, "mc_eid": true,
	"_hsenc": true, "_hsmi": true, "vero_id": true, "mkt_tok": true,
}

// redirectorHosts maps a known click-tracking host to the query
// parameter under which it stashes the real destination URL.
var redirectorHosts = map[string]string{
	"l.facebook.com":       "u",
	"linkprotect.cudasvc.com": "a",
	"urldefense.com":       "u",
	"click.mail.google.com": "u",
}

// CleanURL strips tracking query parameters and, for known
// redirectors, unwraps to the inner target URL. Malformed URLs are
// returned unchanged — this is a best-effort cosmetic pass over the
// plaintext rendering, never a correctness boundary.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	if param, ok := redirectorHosts[u.Hostname()]; ok {
		if inner := u.Query().Get(param); inner != "" {
			if innerURL, err := url.QueryUnescape(inner); err == nil {
				return CleanURL(innerURL)
			}
		}
	}

	q := u.Query()
	changed := false
	for key := range q {
		if trackingParams[key] {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
