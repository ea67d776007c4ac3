package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/timeline-go/internal/api"
	"github.com/tonimelisma/timeline-go/internal/tokenfile"
)

// State is a snapshot of the session. AccessToken is non-empty iff Expiry is
// non-zero. User is nil until a profile fetch has succeeded.
type State struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	User         *api.UserSummary
}

// Absent reports whether no session is stored.
func (s State) Absent() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// validAt reports whether the short-lived credential may be used at now.
func (s State) validAt(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.Expiry)
}

// equal reports whether s and o hold the same credentials, expiry and user.
func (s State) equal(o State) bool {
	if s.AccessToken != o.AccessToken || s.RefreshToken != o.RefreshToken || !s.Expiry.Equal(o.Expiry) {
		return false
	}

	if s.User == nil || o.User == nil {
		return s.User == nil && o.User == nil
	}

	return *s.User == *o.User
}

// clone returns a copy that shares nothing mutable with s.
func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}

	return s
}

// Store persists a session across process restarts. Load returns (nil, nil)
// when nothing is stored. Erase on an empty store is not an error.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st State) error
	Erase(ctx context.Context) error
}

// savedAtStore is implemented by stores that know when the session was last
// written.
type savedAtStore interface {
	SavedAt(ctx context.Context) (time.Time, bool, error)
}

// NormalizeUsername trims surrounding space and applies Unicode NFC so that
// visually identical names typed on different systems compare equal.
func NormalizeUsername(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// toFile converts a state into the persisted session format.
func toFile(st State, now time.Time) *tokenfile.File {
	f := &tokenfile.File{
		Token: &oauth2.Token{
			AccessToken:  st.AccessToken,
			RefreshToken: st.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       st.Expiry,
		},
		SavedAt: now.UTC(),
	}

	if u := st.User; u != nil {
		f.User = map[string]string{
			tokenfile.KeyUserID:   strconv.FormatInt(u.UserID, 10),
			tokenfile.KeyUsername: u.Username,
			tokenfile.KeyEmail:    u.Email,
		}

		if u.Description != "" {
			f.User[tokenfile.KeyDescription] = u.Description
		}

		if u.CreateDate != "" {
			f.User[tokenfile.KeyCreateDate] = u.CreateDate
		}
	}

	return f
}

// fromFile converts the persisted format back into a state, rejecting files
// that break the credential/expiry pairing.
func fromFile(f *tokenfile.File) (*State, error) {
	tok := f.Token

	if (tok.AccessToken == "") != tok.Expiry.IsZero() {
		return nil, fmt.Errorf("%w: access token and expiry must be stored together", tokenfile.ErrCorrupt)
	}

	st := &State{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	if len(f.User) > 0 {
		id, err := strconv.ParseInt(f.User[tokenfile.KeyUserID], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: user id: %w", tokenfile.ErrCorrupt, err)
		}

		st.User = &api.UserSummary{
			UserID:      id,
			Username:    f.User[tokenfile.KeyUsername],
			Email:       f.User[tokenfile.KeyEmail],
			Description: f.User[tokenfile.KeyDescription],
			CreateDate:  f.User[tokenfile.KeyCreateDate],
		}
	}

	return st, nil
}
