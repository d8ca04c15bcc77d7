package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"asyncedit/internal/api"
)

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// OpenSession starts an edit session for actor in world.
func (c *Client) OpenSession(ctx context.Context, actor uuid.UUID, world string, forced bool) (api.SessionResponse, error) {
	var out api.SessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions", api.CreateSessionRequest{Actor: actor, World: world, AsyncForced: forced}, http.StatusCreated, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, id uuid.UUID) (api.SessionResponse, error) {
	var out api.SessionResponse
	p, err := sessionPath(id)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodGet, p, nil, http.StatusOK, &out)
	return out, err
}

// CloseSession flushes and drops the session.
func (c *Client) CloseSession(ctx context.Context, id uuid.UUID) error {
	p, err := sessionPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, nil, http.StatusNoContent, nil)
}

func (c *Client) Check(ctx context.Context, id uuid.UUID, operation string) (api.CheckResponse, error) {
	var out api.CheckResponse
	p, err := sessionPath(id)
	if err != nil {
		return out, err
	}
	op, err := runtime.StyleParamWithLocation("simple", false, "operation", runtime.ParamLocationPath, operation)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, p+"/checks/"+op, nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Flush(ctx context.Context, id uuid.UUID) (api.SessionResponse, error) {
	var out api.SessionResponse
	p, err := sessionPath(id)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, p+"/flush", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) SetLimit(ctx context.Context, id uuid.UUID, limit int) error {
	p, err := sessionPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, p+"/limit", api.LimitRequest{Limit: &limit}, http.StatusOK, nil)
}

// SetBlock writes a block and reports whether it changed the grid.
func (c *Client) SetBlock(ctx context.Context, id uuid.UUID, x, y, z int, req api.SetBlockRequest) (bool, error) {
	p, err := blockPath(id, x, y, z)
	if err != nil {
		return false, err
	}
	var out api.SetBlockResponse
	err = c.do(ctx, http.MethodPut, p, req, http.StatusOK, &out)
	return out.Changed, err
}

func (c *Client) Block(ctx context.Context, id uuid.UUID, x, y, z int) (api.BlockResponse, error) {
	var out api.BlockResponse
	p, err := blockPath(id, x, y, z)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodGet, p, nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Fill(ctx context.Context, id uuid.UUID, req api.FillRequest) (int, error) {
	p, err := sessionPath(id)
	if err != nil {
		return 0, err
	}
	var out api.FillResponse
	err = c.do(ctx, http.MethodPost, p+"/fill", req, http.StatusOK, &out)
	return out.Changed, err
}

func (c *Client) SetPreference(ctx context.Context, actor uuid.UUID, async bool) error {
	a, err := runtime.StyleParamWithLocation("simple", false, "actor", runtime.ParamLocationPath, actor.String())
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/actors/"+a+"/preference", api.PreferenceRequest{Async: &async}, http.StatusOK, nil)
}

func sessionPath(id uuid.UUID) (string, error) {
	p, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, id.String())
	if err != nil {
		return "", err
	}
	return "/sessions/" + p, nil
}

func blockPath(id uuid.UUID, x, y, z int) (string, error) {
	p, err := sessionPath(id)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, 3)
	for _, v := range []struct {
		name  string
		value int
	}{{"x", x}, {"y", y}, {"z", z}} {
		s, err := runtime.StyleParamWithLocation("simple", false, v.name, runtime.ParamLocationPath, v.value)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return p + "/blocks/" + strings.Join(parts, "/"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func newAPIError(status int, body []byte) error {
	return &APIError{
		StatusCode: status,
		Body:       string(body),
	}
}
