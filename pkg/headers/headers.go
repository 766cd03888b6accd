// Package headers converts header collections between fasthttp request and
// response objects and the net/http header multimap.
//
// Values are always kept as independent entries in their original order.
// Nothing here joins repeated values with ", ": that is only safe for some
// fields, and never for Set-Cookie.
package headers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http/httpguts"
)

// SetCookie is the canonical name of the response cookie header.
const SetCookie = "Set-Cookie"

// visitor is implemented by both fasthttp.RequestHeader and
// fasthttp.ResponseHeader.
type visitor interface {
	VisitAll(f func(key, value []byte))
}

// FromRequest copies every request header entry into a new http.Header.
func FromRequest(h *fasthttp.RequestHeader) http.Header {
	return collect(h)
}

// FromResponse copies every response header entry into a new http.Header.
// Each cookie set on the response becomes its own Set-Cookie value.
func FromResponse(h *fasthttp.ResponseHeader) http.Header {
	return collect(h)
}

func collect(v visitor) http.Header {
	out := make(http.Header)
	v.VisitAll(func(k, val []byte) {
		key := http.CanonicalHeaderKey(string(k))
		out[key] = append(out[key], string(val))
	})
	return out
}

// FromMap builds an http.Header from a name -> values map, where a name may
// carry a single value or an ordered sequence. Names are canonicalized. When
// two spellings of the same name are present their values are merged in
// byte order of the spellings, each keeping its own order.
func FromMap(src map[string][]string) http.Header {
	names := make([]string, 0, len(src))
	for k := range src {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(http.Header, len(src))
	for _, k := range names {
		key := http.CanonicalHeaderKey(k)
		out[key] = append(out[key], src[k]...)
	}
	return out
}

// Apply adds every value of src to dst in order. Set-Cookie values are added
// one by one so the response carries one Set-Cookie line per value. Entries
// whose name or value is not valid field syntax are skipped; the number of
// skipped entries is returned.
func Apply(dst *fasthttp.ResponseHeader, src http.Header) (skipped int) {
	for k, vals := range src {
		if !httpguts.ValidHeaderFieldName(k) {
			skipped += len(vals)
			continue
		}
		for _, v := range vals {
			if !httpguts.ValidHeaderFieldValue(v) {
				skipped++
				continue
			}
			dst.Add(k, v)
		}
	}
	return skipped
}

// SetCookies returns every Set-Cookie value of h as a list. A nil slice means
// the header is absent.
func SetCookies(h http.Header) []string {
	vals := h.Values(SetCookie)
	if len(vals) == 0 {
		return nil
	}
	return append([]string(nil), vals...)
}

// Join returns the values of name joined with ", ". ok is false when the
// header is absent or when it is Set-Cookie, whose directives cannot be
// merged; use SetCookies for that one.
func Join(h http.Header, name string) (string, bool) {
	key := http.CanonicalHeaderKey(name)
	if key == SetCookie {
		return "", false
	}
	vals, ok := h[key]
	if !ok {
		return "", false
	}
	return strings.Join(vals, ", "), true
}

// Len counts the individual values held by h.
func Len(h http.Header) int {
	n := 0
	for _, vals := range h {
		n += len(vals)
	}
	return n
}
