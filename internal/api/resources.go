package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Collection endpoints. Templates take numeric ids via the helpers below.
const (
	EndpointPublications = "/api/v1/publications"
	pathTimeline         = "/api/v1/publications/timeline/"
	pathUserPublications = "/api/v1/publications/user/"
	pathUsers            = "/api/v1/users/"
	pathUserByName       = "/api/v1/users/by-username/"
	pathComments         = "/api/v1/comments/"
	pathCommentsByPub    = "/api/v1/comments/publication/"
	pathLikes            = "/api/v1/likes/"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// TimelinePrefix is the common prefix of every TimelineEndpoint.
const TimelinePrefix = pathTimeline

// UsersPrefix is the common prefix of FollowersEndpoint and FollowingEndpoint.
const UsersPrefix = pathUsers

// TimelineEndpoint lists publications of the users userID follows.
func TimelineEndpoint(userID int64) string { return pathTimeline + itoa(userID) }

// UserPublicationsEndpoint lists publications authored by userID.
func UserPublicationsEndpoint(userID int64) string { return pathUserPublications + itoa(userID) }

// FollowersEndpoint lists users following userID.
func FollowersEndpoint(userID int64) string { return pathUsers + itoa(userID) + "/followers" }

// FollowingEndpoint lists users userID follows.
func FollowingEndpoint(userID int64) string { return pathUsers + itoa(userID) + "/following" }

// CommentsEndpoint lists comments on a publication.
func CommentsEndpoint(pubID int64) string { return pathCommentsByPub + itoa(pubID) }

// LikesCountEndpoint returns the number of likes on a publication.
func LikesCountEndpoint(pubID int64) string { return pathLikes + itoa(pubID) + "/count" }

// FetchPage fetches one zero-indexed page of a paginated collection. params
// are extra query parameters; the page parameter is added here. token may be
// empty for anonymous endpoints.
func (c *Client) FetchPage(ctx context.Context, endpoint string, params url.Values, page int, token string) (*Page, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}

	q.Set("page", strconv.Itoa(page))

	var raw rawJSON
	if _, err := c.Do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), token, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching %s page %d: %w", endpoint, page, err)
	}

	p, err := decodePage(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched page",
		slog.String("endpoint", endpoint),
		slog.Int("page", page),
		slog.Int("items", len(p.Items)),
		slog.Int("total_pages", p.TotalPages),
	)

	return p, nil
}

// FetchList fetches an unpaginated collection (e.g. comments) as one page.
func (c *Client) FetchList(ctx context.Context, endpoint, token string) (*Page, error) {
	var raw rawJSON
	if _, err := c.Do(ctx, http.MethodGet, endpoint, token, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}

	if len(raw) == 0 {
		return &Page{Items: []Record{}, TotalPages: 1}, nil
	}

	return decodePage(raw)
}

// FetchCount fetches a numeric count endpoint.
func (c *Client) FetchCount(ctx context.Context, endpoint, token string) (int64, error) {
	var raw rawJSON
	if _, err := c.Do(ctx, http.MethodGet, endpoint, token, nil, &raw); err != nil {
		return 0, fmt.Errorf("fetching %s: %w", endpoint, err)
	}

	if len(raw) == 0 {
		return 0, nil
	}

	return decodeCount(raw)
}

// FetchTotalElements returns the totalElements of a paginated collection by
// fetching its first page. Used for follower/following counts.
func (c *Client) FetchTotalElements(ctx context.Context, endpoint, token string) (int64, error) {
	p, err := c.FetchPage(ctx, endpoint, nil, 0, token)
	if err != nil {
		return 0, err
	}

	return p.TotalElements, nil
}

// Mutate performs a write and returns the canonical record from the response
// body, or nil when the server answered without one (e.g. 204).
func (c *Client) Mutate(ctx context.Context, method, endpoint, token string, body any) (Record, error) {
	var raw rawJSON
	if _, err := c.Do(ctx, method, endpoint, token, body, &raw); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	// Only an object body is a canonical record; counts, booleans and empty
	// bodies carry nothing to reconcile with.
	var rec Record
	if firstNonSpace(raw) == '{' {
		if err := unmarshalNumbers(raw, &rec); err != nil {
			return nil, fmt.Errorf("api: decoding %s response: %w", endpoint, err)
		}
	}

	c.logger.Debug("mutation succeeded",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Bool("canonical", rec != nil),
	)

	return rec, nil
}

// UserByUsername looks up a public profile by username.
func (c *Client) UserByUsername(ctx context.Context, username string) (*UserSummary, error) {
	var u UserSummary
	if _, err := c.Do(ctx, http.MethodGet, pathUserByName+url.PathEscape(username), "", nil, &u); err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", username, err)
	}

	return &u, nil
}

type textBody struct {
	Text string `json:"text"`
}

type usernameBody struct {
	Username string `json:"username"`
}

// CreatePublication posts a publication for the token's owner.
func (c *Client) CreatePublication(ctx context.Context, token, text string) (Record, error) {
	return c.Mutate(ctx, http.MethodPost, EndpointPublications, token, textBody{text})
}

// DeletePublication deletes a publication by id.
func (c *Client) DeletePublication(ctx context.Context, token string, pubID int64) error {
	_, err := c.Mutate(ctx, http.MethodDelete, EndpointPublications+"/"+itoa(pubID), token, nil)
	return err
}

// Like records a like by userID on a publication.
func (c *Client) Like(ctx context.Context, token string, pubID, userID int64) error {
	_, err := c.Mutate(ctx, http.MethodPost, pathLikes+itoa(pubID)+"/user/"+itoa(userID), token, nil)
	return err
}

// Unlike removes userID's like from a publication.
func (c *Client) Unlike(ctx context.Context, token string, pubID, userID int64) error {
	_, err := c.Mutate(ctx, http.MethodDelete, pathLikes+itoa(pubID)+"/user/"+itoa(userID), token, nil)
	return err
}

// Follow makes userID follow targetID.
func (c *Client) Follow(ctx context.Context, token string, userID, targetID int64) error {
	_, err := c.Mutate(ctx, http.MethodPost, pathUsers+itoa(userID)+"/follow/"+itoa(targetID), token, nil)
	return err
}

// Unfollow makes userID stop following targetID.
func (c *Client) Unfollow(ctx context.Context, token string, userID, targetID int64) error {
	_, err := c.Mutate(ctx, http.MethodDelete, pathUsers+itoa(userID)+"/follow/"+itoa(targetID), token, nil)
	return err
}

// RenameUser changes userID's username and returns the updated user.
func (c *Client) RenameUser(ctx context.Context, token string, userID int64, username string) (Record, error) {
	return c.Mutate(ctx, http.MethodPatch, pathUsers+itoa(userID)+"/username", token, usernameBody{username})
}

// CreateComment adds a comment by userID to a publication.
func (c *Client) CreateComment(ctx context.Context, token string, pubID, userID int64, text string) (Record, error) {
	return c.Mutate(ctx, http.MethodPost, pathCommentsByPub+itoa(pubID)+"/user/"+itoa(userID), token, textBody{text})
}

// DeleteComment deletes userID's comment.
func (c *Client) DeleteComment(ctx context.Context, token string, commentID, userID int64) error {
	_, err := c.Mutate(ctx, http.MethodDelete, pathComments+itoa(commentID)+"/user/"+itoa(userID), token, nil)
	return err
}

// rawJSON captures a response body verbatim for shape-dependent decoding.
type rawJSON []byte

func (r *rawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
