package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
)

// TokenSource exposes the credential the remote adapter sends with every
// call. UserID is empty until the token has been verified.
type TokenSource interface {
	Token() string
	UserID() string
}

// Remote talks to the networked store over HTTP/JSON. All probes use short
// timeouts and degrade to "unavailable" rather than blocking callers.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

func NewRemote(baseURL string, timeout time.Duration, tokens TokenSource) *Remote {
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	return &Remote{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (r *Remote) HasCredential(userID string) bool {
	if r.tokens == nil || r.tokens.Token() == "" {
		return false
	}
	verified := r.tokens.UserID()
	return verified != "" && verified == userID
}

type remoteEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (r *Remote) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.tokens != nil && r.tokens.Token() != "" {
		req.Header.Set("Authorization", "Bearer "+r.tokens.Token())
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return apierrors.Unavailable("Remote store unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var envelope remoteEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("remote store: malformed response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apierrors.NotFound(messageOr(envelope.Error, "Atome not found"), nil)
	case resp.StatusCode == http.StatusConflict:
		return apierrors.AlreadyExists(messageOr(envelope.Error, "Atome already exists"), nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return apierrors.Unauthenticated(messageOr(envelope.Error, "Remote credential rejected"), nil)
	case resp.StatusCode == http.StatusForbidden:
		return apierrors.Unauthorized(messageOr(envelope.Error, "Remote call forbidden"), nil)
	case resp.StatusCode >= 300:
		return fmt.Errorf("remote store: status=%d body=%s", resp.StatusCode, string(raw))
	}

	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}

func (r *Remote) Create(ctx context.Context, atome *domain.Atome) error {
	return r.do(ctx, http.MethodPost, "/atomes", atome, atome)
}

func (r *Remote) Get(ctx context.Context, id string, includeDeleted bool) (*domain.Atome, error) {
	path := "/atomes/" + url.PathEscape(id)
	if includeDeleted {
		path += "?includeDeleted=true"
	}
	var atome domain.Atome
	if err := r.do(ctx, http.MethodGet, path, nil, &atome); err != nil {
		return nil, err
	}
	return &atome, nil
}

func (r *Remote) List(ctx context.Context, q Query) ([]domain.Atome, error) {
	values := url.Values{}
	if q.Type != "" {
		values.Set("type", q.Type)
	}
	if q.OwnerID != "" {
		values.Set("ownerId", q.OwnerID)
	}
	if q.ParentID != "" {
		values.Set("parentId", q.ParentID)
	}
	if q.IncludeDeleted {
		values.Set("includeDeleted", "true")
	}
	if q.IncludeShared {
		values.Set("includeShared", "true")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	path := "/atomes"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var atomes []domain.Atome
	if err := r.do(ctx, http.MethodGet, path, nil, &atomes); err != nil {
		return nil, err
	}
	return atomes, nil
}

type remotePatch struct {
	Particles map[string]any `json:"particles"`
	Author    string         `json:"author"`
}

func (r *Remote) Update(ctx context.Context, id string, patch map[string]any, author string) (*domain.Atome, error) {
	var atome domain.Atome
	err := r.do(ctx, http.MethodPut, "/atomes/"+url.PathEscape(id), remotePatch{Particles: patch, Author: author}, &atome)
	if err != nil {
		return nil, err
	}
	return &atome, nil
}

func (r *Remote) SoftDelete(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/atomes/"+url.PathEscape(id), nil, nil)
}

type remoteMigrate struct {
	FromOwnerID string `json:"from_owner_id"`
	ToOwnerID   string `json:"to_owner_id"`
}

func (r *Remote) ReassignOwner(ctx context.Context, oldOwner, newOwner string) (int64, error) {
	var result struct {
		Moved int64 `json:"moved"`
	}
	err := r.do(ctx, http.MethodPost, "/atomes/migrate", remoteMigrate{FromOwnerID: oldOwner, ToOwnerID: newOwner}, &result)
	return result.Moved, err
}
