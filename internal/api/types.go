package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AuthResponse is returned by login, register and refresh.
type AuthResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// RegisterRequest holds the profile fields accepted by /auth/register.
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	Description string `json:"description,omitempty"`
}

// UserSummary is the authenticated user's profile from /auth/me, and the
// shape of users returned by /users/by-username.
type UserSummary struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Description string `json:"description,omitempty"`
	CreateDate  string `json:"createDate,omitempty"`
}

// Record converts the summary into the generic record shape stored in
// follower/following pages.
func (u *UserSummary) Record() Record {
	r := Record{
		"userId":   json.Number(strconv.FormatInt(u.UserID, 10)),
		"username": u.Username,
		"email":    u.Email,
	}

	if u.Description != "" {
		r["description"] = u.Description
	}

	if u.CreateDate != "" {
		r["createDate"] = u.CreateDate
	}

	return r
}

// Record is one opaque domain object (publication, user, comment) decoded from
// JSON. Numbers are kept as json.Number so identities round-trip exactly.
type Record map[string]any

// identityFields are checked in order by Identity.
var identityFields = []string{"id", "userId", "publicationId", "commentId"}

// Identity returns the record's identity as a string, using the first
// present field among id, userId, publicationId and commentId.
func (r Record) Identity() (string, bool) {
	for _, f := range identityFields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}

		return FormatID(v), true
	}

	return "", false
}

// String returns the string value of key, or "" when missing.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

// Clone returns a deep copy of the record. Nested maps and slices decoded
// from JSON are copied too, so mutating the clone never touches the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}

	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}

		return m
	case Record:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}

		return s
	default:
		return v
	}
}

// FormatID renders an identity value (json.Number, int, float or string) in
// its canonical decimal/string form.
func FormatID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}

// Page is one server-side page of a collection.
type Page struct {
	Items         []Record
	TotalPages    int
	TotalElements int64
}

// springPage mirrors the backend's Spring Data page JSON.
type springPage struct {
	Content       []Record `json:"content"`
	TotalPages    int      `json:"totalPages"`
	TotalElements int64    `json:"totalElements"`
}

// decodePage accepts either a Spring page object or a bare JSON array. A bare
// array is one complete page.
func decodePage(data []byte) (*Page, error) {
	trimmed := firstNonSpace(data)

	if trimmed == '[' {
		var items []Record
		if err := unmarshalNumbers(data, &items); err != nil {
			return nil, fmt.Errorf("api: decoding list: %w", err)
		}

		return &Page{Items: items, TotalPages: 1, TotalElements: int64(len(items))}, nil
	}

	var sp springPage
	if err := unmarshalNumbers(data, &sp); err != nil {
		return nil, fmt.Errorf("api: decoding page: %w", err)
	}

	if sp.Content == nil {
		sp.Content = []Record{}
	}

	if sp.TotalPages < 0 {
		sp.TotalPages = 0
	}

	return &Page{Items: sp.Content, TotalPages: sp.TotalPages, TotalElements: sp.TotalElements}, nil
}

// decodeCount accepts a bare number, a numeric string, or {"count": n}.
// Anything else decodes as 0, matching the backend's loose contract.
func decodeCount(data []byte) (int64, error) {
	var raw any
	if err := unmarshalNumbers(data, &raw); err != nil {
		return 0, fmt.Errorf("api: decoding count: %w", err)
	}

	switch t := raw.(type) {
	case json.Number:
		return t.Int64()
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, nil
		}

		return n, nil
	case map[string]any:
		if c, ok := t["count"].(json.Number); ok {
			return c.Int64()
		}
	}

	return 0, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}

	return 0
}
