package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mailcheck/internal"
	"mailcheck/internal/config"
)

type Client struct {
	cfg        config.Backend
	httpClient *http.Client
	limiter    *RateLimiter
	tokens     oauth2.TokenSource
	backoff    func(attempt int) time.Duration
}

// APIError is a non-2xx answer from the verification backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s %s: status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

// ErrNoAccessToken is returned for a user-scoped call that carries no bearer
// token. Such calls never fall back to the service credentials.
var ErrNoAccessToken = errors.New("user request has no access token")

type tokenKey struct{}

// WithAccessToken marks ctx as user-scoped and attaches the user's bearer
// token. Calls made with it use that token and nothing else.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, strings.TrimSpace(token))
}

func accessTokenFrom(ctx context.Context) (token string, userScoped bool) {
	token, userScoped = ctx.Value(tokenKey{}).(string)
	return token, userScoped
}

func NewClient(cfg config.Backend) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RateLimitRPS),
		backoff:    defaultBackoff,
	}
	switch {
	case cfg.OAuthEnabled():
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
		}
		c.tokens = cc.TokenSource(context.Background())
	case strings.TrimSpace(cfg.Token) != "":
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	}
	return c
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

// UploadFiles posts a batch of files with their column mapping and returns
// the backend's per-file acknowledgements.
func (c *Client) UploadFiles(ctx context.Context, files []internal.UploadedFile, meta []internal.FileMeta) ([]internal.UploadAck, error) {
	if len(files) != len(meta) {
		return nil, fmt.Errorf("upload: %d files but %d column mappings", len(files), len(meta))
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for i, f := range files {
		part, err := w.CreateFormFile("files[]", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
		if err := w.WriteField("email_column[]", meta[i].EmailColumn); err != nil {
			return nil, err
		}
		if err := w.WriteField("has_header[]", strconv.FormatBool(meta[i].HasHeader)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	raw, err := c.do(ctx, http.MethodPost, "uploads", nil, body.Bytes(), w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return decodeAcks(raw)
}

func decodeAcks(raw []byte) ([]internal.UploadAck, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var acks []wireUploadAck
		if err := json.Unmarshal(trimmed, &acks); err != nil {
			return nil, fmt.Errorf("decode upload acks: %w", err)
		}
		return acksToInternal(acks), nil
	}
	var wrapped struct {
		Files []wireUploadAck `json:"files"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode upload acks: %w", err)
	}
	return acksToInternal(wrapped.Files), nil
}

func (c *Client) CreateTask(ctx context.Context, emails []string) (internal.TaskRef, error) {
	var ref wireTaskRef
	err := c.sendJSON(ctx, http.MethodPost, "tasks", map[string]any{"emails": emails}, &ref)
	if err != nil {
		return internal.TaskRef{}, err
	}
	if strings.TrimSpace(ref.TaskID) == "" {
		return internal.TaskRef{}, errors.New("backend created task without task_id")
	}
	return internal.TaskRef{TaskID: ref.TaskID}, nil
}

func (c *Client) GetTaskDetail(ctx context.Context, taskID string) (*internal.TaskDetail, error) {
	var raw wireTaskDetail
	if err := c.getJSON(ctx, "tasks/"+url.PathEscape(taskID), nil, &raw); err != nil {
		return nil, err
	}
	detail := raw.toInternal()
	if detail.ID == "" {
		detail.ID = taskID
	}
	return detail, nil
}

func (c *Client) ListTasks(ctx context.Context, page int) (internal.HistoryPage, error) {
	var out wireHistoryPage
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if err := c.getJSON(ctx, "tasks", q, &out); err != nil {
		return internal.HistoryPage{}, err
	}
	return out.toInternal(), nil
}

func (c *Client) GetCredits(ctx context.Context) (internal.Credits, error) {
	var out internal.Credits
	err := c.getJSON(ctx, "account/credits", nil, &out)
	return out, err
}

func (c *Client) GetUsage(ctx context.Context, days int) ([]internal.UsagePoint, error) {
	var raw []wireUsagePoint
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	if err := c.getJSON(ctx, "account/usage", q, &raw); err != nil {
		return nil, err
	}
	out := make([]internal.UsagePoint, 0, len(raw))
	for _, p := range raw {
		out = append(out, internal.UsagePoint(p))
	}
	return out, nil
}

func (c *Client) ListPurchases(ctx context.Context) ([]internal.Purchase, error) {
	var raw []wirePurchase
	if err := c.getJSON(ctx, "account/purchases", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]internal.Purchase, 0, len(raw))
	for _, p := range raw {
		out = append(out, internal.Purchase(p))
	}
	return out, nil
}

func (c *Client) ListAPIKeys(ctx context.Context) ([]internal.APIKey, error) {
	var raw []wireAPIKey
	if err := c.getJSON(ctx, "account/api-keys", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]internal.APIKey, 0, len(raw))
	for _, k := range raw {
		out = append(out, internal.APIKey(k))
	}
	return out, nil
}

func (c *Client) CreateAPIKey(ctx context.Context, name string) (internal.APIKey, error) {
	var out wireAPIKey
	err := c.sendJSON(ctx, http.MethodPost, "account/api-keys", map[string]string{"name": name}, &out)
	return internal.APIKey(out), err
}

func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "account/api-keys/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetProfile(ctx context.Context) (internal.Profile, error) {
	var out wireProfile
	err := c.getJSON(ctx, "account/profile", nil, &out)
	return internal.Profile(out), err
}

func (c *Client) UpdateProfile(ctx context.Context, p internal.Profile) (internal.Profile, error) {
	var out wireProfile
	err := c.sendJSON(ctx, http.MethodPut, "account/profile", wireProfile(p), &out)
	return internal.Profile(out), err
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	raw, err := c.do(ctx, http.MethodGet, endpoint, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var payload []byte
	contentType := ""
	if in != nil {
		blob, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = blob
		contentType = "application/json"
	}
	raw, err := c.do(ctx, method, endpoint, nil, payload, contentType)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// do sends one request. Only GETs are retried; a POST that timed out may
// still have created a task on the backend.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload []byte, contentType string) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	attempts := 1
	if method == http.MethodGet && c.cfg.MaxAttempts > 1 {
		attempts = c.cfg.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return nil, err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt == attempts {
				break
			}
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Method: method, Path: u.Path, Status: resp.StatusCode, Body: string(raw)}
			if isRetryableStatus(resp.StatusCode) && attempt < attempts {
				lastErr = apiErr
				if err := c.wait(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, apiErr
		}
		return raw, nil
	}

	if lastErr == nil {
		lastErr = errors.New("backend request failed")
	}
	return nil, fmt.Errorf("backend %s %s: %w", method, u.Path, lastErr)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if token, userScoped := accessTokenFrom(ctx); userScoped {
		if token == "" {
			return "", ErrNoAccessToken
		}
		return token, nil
	}
	if c.tokens == nil {
		return "", errors.New("missing BACKEND_TOKEN or OAuth client credentials")
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("backend token: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
