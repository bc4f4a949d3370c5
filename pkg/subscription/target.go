package subscription

import (
	"fmt"
	"net/url"
	"strings"
)

// Transport selects how a target is kept up to date
type Transport int

const (
	TransportSocket Transport = iota
	TransportPoll
)

func (t Transport) String() string {
	if t == TransportPoll {
		return "poll"
	}
	return "socket"
}

// ParseTransport accepts "socket" or "poll"
func ParseTransport(value string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "socket", "ws", "websocket":
		return TransportSocket, nil
	case "poll", "rest", "http":
		return TransportPoll, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", value)
	}
}

const (
	sitesSocketPath = "/ws/sites"
	siteSocketPath  = "/ws/site/"
	sitesPollPath   = "/api/site/sites"
	sitePollPath    = "/api/sites/site/"
)

// Target identifies the backend resource a subscription follows.
// An empty SiteID means the list of all sites.
type Target struct {
	Transport Transport
	SiteID    string
}

func SitesSocket() Target {
	return Target{Transport: TransportSocket}
}

func SiteSocket(id string) Target {
	return Target{Transport: TransportSocket, SiteID: id}
}

func SitesPoll() Target {
	return Target{Transport: TransportPoll}
}

func SitePoll(id string) Target {
	return Target{Transport: TransportPoll, SiteID: id}
}

// Path is the escaped backend path for the target, relative to the base URL
func (t Target) Path() string {
	return t.path(url.PathEscape(t.SiteID))
}

func (t Target) path(id string) string {
	switch {
	case t.Transport == TransportSocket && t.SiteID == "":
		return sitesSocketPath
	case t.Transport == TransportSocket:
		return siteSocketPath + id
	case t.SiteID == "":
		return sitesPollPath
	default:
		return sitePollPath + id
	}
}

// SingleSite reports whether the target follows one site
func (t Target) SingleSite() bool {
	return t.SiteID != ""
}

func (t Target) String() string {
	return t.Transport.String() + ":" + t.Path()
}

// SocketURL resolves the target against an http(s) or ws(s) base URL and
// returns the matching ws(s) URL.
func (t Target) SocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", base)
	}

	u.Path = strings.TrimRight(u.Path, "/") + t.path(t.SiteID)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
