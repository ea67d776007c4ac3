package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIdentity(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
		ok   bool
	}{
		{"id number", Record{"id": json.Number("5")}, "5", true},
		{"id string", Record{"id": "tmp-1"}, "tmp-1", true},
		{"userId fallback", Record{"userId": json.Number("9"), "username": "x"}, "9", true},
		{"id wins over userId", Record{"id": 1, "userId": 2}, "1", true},
		{"float", Record{"id": float64(12)}, "12", true},
		{"none", Record{"text": "x"}, "", false},
		{"nil id skipped", Record{"id": nil, "commentId": int64(3)}, "3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rec.Identity()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordClone_Deep(t *testing.T) {
	orig := Record{
		"id":     json.Number("1"),
		"author": map[string]any{"username": "alice"},
		"tags":   []any{"a", map[string]any{"k": "v"}},
	}

	c := orig.Clone()
	c["author"].(map[string]any)["username"] = "mallory"
	c["tags"].([]any)[1].(map[string]any)["k"] = "changed"
	c["id"] = "other"

	assert.Equal(t, "alice", orig["author"].(map[string]any)["username"])
	assert.Equal(t, "v", orig["tags"].([]any)[1].(map[string]any)["k"])
	assert.Equal(t, json.Number("1"), orig["id"])
	assert.Nil(t, Record(nil).Clone())
}

func TestUserSummaryRecord(t *testing.T) {
	u := UserSummary{UserID: 42, Username: "alice", Email: "a@x"}
	r := u.Record()

	id, ok := r.Identity()
	require.True(t, ok)
	assert.Equal(t, "42", id)
	assert.Equal(t, "alice", r.String("username"))
	assert.NotContains(t, r, "description")
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"server message", &Error{StatusCode: 400, Message: "text too long", Err: ErrBadRequest}, "text too long"},
		{"wrapped server message", fmt.Errorf("post: %w", &Error{StatusCode: 500, Message: "boom", Err: ErrServer}), "boom"},
		{"not authenticated", fmt.Errorf("x: %w", ErrNotAuthenticated), msgNotAuthenticated},
		{"auth", fmt.Errorf("%w: revoked", ErrAuth), msgAuth},
		{"network", fmt.Errorf("%w: dial", ErrNetwork), msgNetwork},
		{"status without message", &Error{StatusCode: 409, Err: ErrConflict}, msgValidation},
		{"unknown", errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestNewError_MessagePrecedence(t *testing.T) {
	assert.Equal(t, "d", newError(400, []byte(`{"detail":"d","message":"m"}`)).Message)
	assert.Equal(t, "m", newError(400, []byte(`{"message":"m","error":"e"}`)).Message)
	assert.Equal(t, "e", newError(400, []byte(`{"error":"e"}`)).Message)
	assert.Equal(t, "Not Found", newError(404, []byte(`<html>`)).Message)
}
