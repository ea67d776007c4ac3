package cache

import (
	"net/url"
	"strconv"
	"strings"
)

// QueryKey identifies one page of a collection. Params is the canonical
// encoding of the query parameters (sorted by key), so two keys are equal
// iff endpoint, parameter values and page are equal. QueryKey is comparable
// and used directly as a map key.
type QueryKey struct {
	Endpoint string
	Params   string
	Page     int
}

// NewKey builds a key from an endpoint, its parameters and a zero-indexed
// page.
func NewKey(endpoint string, params url.Values, page int) QueryKey {
	return QueryKey{Endpoint: endpoint, Params: params.Encode(), Page: page}
}

// WithPage returns the same query at another page.
func (k QueryKey) WithPage(page int) QueryKey {
	k.Page = page
	return k
}

// Values decodes Params back into url.Values.
func (k QueryKey) Values() url.Values {
	v, err := url.ParseQuery(k.Params)
	if err != nil {
		return url.Values{}
	}

	return v
}

func (k QueryKey) String() string {
	var b strings.Builder

	b.WriteString(k.Endpoint)

	if k.Params != "" {
		b.WriteByte('?')
		b.WriteString(k.Params)
	}

	b.WriteByte('#')
	b.WriteString(strconv.Itoa(k.Page))

	return b.String()
}

// Predicate selects keys for Invalidate, Keys and MarkCountStale.
type Predicate func(QueryKey) bool

// EndpointPrefix matches every key whose endpoint starts with prefix,
// regardless of parameters and page.
func EndpointPrefix(prefix string) Predicate {
	return func(k QueryKey) bool { return strings.HasPrefix(k.Endpoint, prefix) }
}

// Endpoint matches every page of exactly one endpoint.
func Endpoint(endpoint string) Predicate {
	return func(k QueryKey) bool { return k.Endpoint == endpoint }
}

// ExactKey matches a single key.
func ExactKey(key QueryKey) Predicate {
	return func(k QueryKey) bool { return k == key }
}

// Any matches when at least one of preds matches.
func Any(preds ...Predicate) Predicate {
	return func(k QueryKey) bool {
		for _, p := range preds {
			if p(k) {
				return true
			}
		}

		return false
	}
}
