package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBackend is an in-memory timeline server. Only the endpoints the CLI
// calls are implemented; state is guarded by mu.
type fakeBackend struct {
	srv *httptest.Server

	mu        sync.Mutex
	users     map[int64]map[string]any
	password  string
	pubs      []map[string]any
	timeline  []map[string]any
	following map[int64][]int64
	likes     map[int64]map[int64]bool
	comments  map[int64][]map[string]any
	nextID    int64

	logins   atomic.Int32
	follows  atomic.Int32
	meCalls  atomic.Int32
	mutCalls atomic.Int32
}

const (
	aliceID = 1
	bobID   = 2
	token   = "access-1"
)

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		users: map[int64]map[string]any{
			aliceID: {"userId": aliceID, "username": "alice", "email": "alice@example.com"},
			bobID:   {"userId": bobID, "username": "bob", "email": "bob@example.com"},
		},
		password:  "s3cret",
		following: map[int64][]int64{},
		likes:     map[int64]map[int64]bool{},
		comments:  map[int64][]map[string]any{},
		nextID:    100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", b.login)
	mux.HandleFunc("POST /api/v1/auth/register", b.login)
	mux.HandleFunc("POST /api/v1/auth/refresh", b.login)
	mux.HandleFunc("GET /api/v1/auth/me", b.authed(b.me))
	mux.HandleFunc("GET /api/v1/users/by-username/{name}", b.byUsername)
	mux.HandleFunc("GET /api/v1/publications", b.listPublications)
	mux.HandleFunc("POST /api/v1/publications", b.authed(b.createPublication))
	mux.HandleFunc("DELETE /api/v1/publications/{id}", b.authed(b.deletePublication))
	mux.HandleFunc("GET /api/v1/publications/user/{uid}", b.userPublications)
	mux.HandleFunc("GET /api/v1/publications/timeline/{uid}", b.authed(b.listTimeline))
	mux.HandleFunc("GET /api/v1/users/{uid}/{list}", b.userList)
	mux.HandleFunc("POST /api/v1/users/{uid}/follow/{target}", b.authed(b.follow))
	mux.HandleFunc("DELETE /api/v1/users/{uid}/follow/{target}", b.authed(b.unfollow))
	mux.HandleFunc("PATCH /api/v1/users/{uid}/username", b.authed(b.rename))
	mux.HandleFunc("GET /api/v1/likes/{pid}/count", b.likeCount)
	mux.HandleFunc("POST /api/v1/likes/{pid}/user/{uid}", b.authed(b.like))
	mux.HandleFunc("DELETE /api/v1/likes/{pid}/user/{uid}", b.authed(b.unlike))
	mux.HandleFunc("GET /api/v1/comments/publication/{pid}", b.listComments)
	mux.HandleFunc("POST /api/v1/comments/publication/{pid}/user/{uid}", b.authed(b.createComment))
	mux.HandleFunc("DELETE /api/v1/comments/{cid}/user/{uid}", b.authed(b.deleteComment))

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)

	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) int64 {
	n, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return n
}

func page(items []map[string]any) map[string]any {
	if items == nil {
		items = []map[string]any{}
	}

	return map[string]any{"content": items, "totalPages": 1, "totalElements": len(items)}
}

func (b *fakeBackend) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}

		if r.Method != http.MethodGet {
			b.mutCalls.Add(1)
		}

		h(w, r)
	}
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	b.logins.Add(1)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if r.URL.Path == "/api/v1/auth/login" && req.Password != b.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"access_token":  token,
		"expires_in":    3600,
		"refresh_token": "refresh-1",
	})
}

func (b *fakeBackend) me(w http.ResponseWriter, _ *http.Request) {
	b.meCalls.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, b.users[aliceID])
}

func (b *fakeBackend) byUsername(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range b.users {
		if u["username"] == r.PathValue("name") {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
}

func (b *fakeBackend) publication(uid int64, text string) map[string]any {
	b.nextID++

	return map[string]any{
		"id":         b.nextID,
		"text":       text,
		"createDate": "2026-03-01T09:30:00",
		"user":       map[string]any{"userId": uid, "username": b.users[uid]["username"]},
	}
}

// addPublication seeds a publication by uid and returns its id.
func (b *fakeBackend) addPublication(uid int64, text string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.publication(uid, text)
	b.pubs = append([]map[string]any{p}, b.pubs...)

	return b.nextID
}

// addToTimeline seeds a publication that appears on alice's timeline.
func (b *fakeBackend) addToTimeline(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeline = append([]map[string]any{b.publication(bobID, text)}, b.timeline...)
}

func (b *fakeBackend) listPublications(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, page(b.pubs))
}

func (b *fakeBackend) userPublications(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uid := pathID(r, "uid")

	var out []map[string]any
	for _, p := range b.pubs {
		if p["user"].(map[string]any)["userId"] == uid {
			out = append(out, p)
		}
	}

	writeJSON(w, http.StatusOK, page(out))
}

func (b *fakeBackend) listTimeline(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, page(b.timeline))
}

func (b *fakeBackend) createPublication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.publication(aliceID, req.Text)
	b.pubs = append([]map[string]any{p}, b.pubs...)

	writeJSON(w, http.StatusCreated, p)
}

func (b *fakeBackend) deletePublication(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := pathID(r, "id")
	b.pubs = slices.DeleteFunc(b.pubs, func(p map[string]any) bool { return p["id"] == id })

	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) usersOf(ids []int64) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.users[id])
	}

	return out
}

// userList serves followers and following. One pattern covers both so it
// does not conflict with the by-username route.
func (b *fakeBackend) userList(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("list") {
	case "followers":
		b.followers(w, r)
	case "following":
		b.followingList(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) followers(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := pathID(r, "uid")

	var ids []int64
	for uid, followed := range b.following {
		if slices.Contains(followed, target) {
			ids = append(ids, uid)
		}
	}

	slices.Sort(ids)

	writeJSON(w, http.StatusOK, page(b.usersOf(ids)))
}

func (b *fakeBackend) followingList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, page(b.usersOf(b.following[pathID(r, "uid")])))
}

// setFollowing makes uid follow target.
func (b *fakeBackend) setFollowing(uid, target int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.following[uid] = append(b.following[uid], target)
}

func (b *fakeBackend) isFollowing(uid, target int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Contains(b.following[uid], target)
}

func (b *fakeBackend) follow(w http.ResponseWriter, r *http.Request) {
	b.follows.Add(1)

	b.mu.Lock()
	uid, target := pathID(r, "uid"), pathID(r, "target")
	if !slices.Contains(b.following[uid], target) {
		b.following[uid] = append(b.following[uid], target)
	}
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) unfollow(w http.ResponseWriter, r *http.Request) {
	b.follows.Add(1)

	b.mu.Lock()
	uid, target := pathID(r, "uid"), pathID(r, "target")
	b.following[uid] = slices.DeleteFunc(b.following[uid], func(id int64) bool { return id == target })
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[pathID(r, "uid")]
	u["username"] = req.Username

	writeJSON(w, http.StatusOK, u)
}

func (b *fakeBackend) likeCount(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeJSON(w, http.StatusOK, len(b.likes[pathID(r, "pid")]))
}

func (b *fakeBackend) like(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pid := pathID(r, "pid")
	if b.likes[pid] == nil {
		b.likes[pid] = map[int64]bool{}
	}

	b.likes[pid][pathID(r, "uid")] = true

	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) unlike(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.likes[pathID(r, "pid")], pathID(r, "uid"))

	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) listComments(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.comments[pathID(r, "pid")]
	if out == nil {
		out = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) createComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()

	pid, uid := pathID(r, "pid"), pathID(r, "uid")
	b.nextID++
	c := map[string]any{
		"id":         b.nextID,
		"text":       req.Text,
		"createDate": "2026-03-01T10:00:00",
		"user":       map[string]any{"userId": uid, "username": b.users[uid]["username"]},
	}
	b.comments[pid] = append(b.comments[pid], c)

	writeJSON(w, http.StatusCreated, c)
}

func (b *fakeBackend) deleteComment(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cid := pathID(r, "cid")
	for pid, list := range b.comments {
		b.comments[pid] = slices.DeleteFunc(list, func(c map[string]any) bool { return c["id"] == cid })
	}

	w.WriteHeader(http.StatusNoContent)
}
