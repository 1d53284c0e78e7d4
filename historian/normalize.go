package historian

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// NormalizeWhitespace collapses internal whitespace runs into single spaces
// and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeURL derives the canonical URL form: lower-cased scheme (https when
// absent) and host, path defaulting to "/", query parameters sorted by
// (key, value) with blank values preserved, fragment stripped. The function is
// idempotent: NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		// Unparseable input cannot be normalized; dedup falls back to the
		// trimmed raw string.
		return trimmed
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	out := scheme + "://" + host + p
	if q := normalizeQuery(u.RawQuery); q != "" {
		out += "?" + q
	}
	return out
}

func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	type pair struct{ key, val string }
	var pairs []pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if ku, err := url.QueryUnescape(k); err == nil {
			k = ku
		}
		if vu, err := url.QueryUnescape(v); err == nil {
			v = vu
		}
		pairs = append(pairs, pair{key: k, val: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].val < pairs[j].val
	})
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.val))
	}
	return b.String()
}

// TopicSlug collapses whitespace, lower-cases and replaces "/" and spaces
// with "-".
func TopicSlug(topic string) string {
	s := strings.ToLower(NormalizeWhitespace(topic))
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// MakeItemKey is the content-addressed identity of one alert item. The same
// URL under two different topics yields two distinct keys.
func MakeItemKey(urlNormalized, topic string) string {
	sum := sha256.Sum256([]byte(urlNormalized + "|" + TopicSlug(topic)))
	return hex.EncodeToString(sum[:])
}

// MakeMessageKey is the content-addressed identity of one ingested message.
func MakeMessageKey(account, messageID string) string {
	sum := sha256.Sum256([]byte(account + "|" + messageID))
	return hex.EncodeToString(sum[:])
}

// NormalizeItem builds a CanonicalItem from raw export fields.
func NormalizeItem(rawURL, title, snippet string) CanonicalItem {
	normalized := NormalizeURL(rawURL)
	domain := ""
	if u, err := url.Parse(normalized); err == nil {
		domain = u.Hostname()
	}
	t := NormalizeWhitespace(title)
	if t == "" {
		t = normalized
	}
	return CanonicalItem{
		URL:           rawURL,
		URLNormalized: normalized,
		Title:         t,
		Snippet:       NormalizeWhitespace(snippet),
		SourceDomain:  domain,
	}
}
