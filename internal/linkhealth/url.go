package linkhealth

import (
	"net/url"
	"strings"
)

// trackingParams lists click/affiliate tracking keys that never affect the
// identity of the destination page. Keys prefixed with utm_ are handled
// separately.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"gbraid":  {},
	"wbraid":  {},
	"msclkid": {},
	"yclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_hsenc":  {},
	"_hsmi":   {},
	"mkt_tok": {},
	"ref_src": {},
}

// HealURL removes tracking parameters and the fragment from raw. Other query
// parameters keep their original order and encoding. Input that does not
// parse as an absolute URL is returned unchanged.
func HealURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		key := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			key = part[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if isTrackingParam(key) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// URLParts is the loggable breakdown of a URL.
type URLParts struct {
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// ExtractURLParts splits raw into domain and path (query included). The path
// is "/" when absent. It reports false for anything that is not an absolute
// URL with a host.
func ExtractURLParts(raw string) (URLParts, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return URLParts{}, false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return URLParts{Domain: strings.ToLower(u.Hostname()), Path: path}, true
}

// Site returns the lowercase host of raw or "unknown".
func Site(raw string) string {
	parts, ok := ExtractURLParts(raw)
	if !ok {
		return "unknown"
	}
	return parts.Domain
}
