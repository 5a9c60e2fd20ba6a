package vercel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/smallbiznis/shipyard/internal/observability/tracing"
)

const defaultBaseURL = "https://api.vercel.com"

// transport handles low-level HTTP and authentication against the Vercel
// REST API. There is no official Go SDK.
type transport struct {
	baseURL    string
	token      string
	teamID     string
	httpClient *http.Client
}

func newTransport(baseURL, token, teamID string) *transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &transport{
		baseURL:    baseURL,
		token:      token,
		teamID:     teamID,
		httpClient: tracing.WrapHTTPClient(&http.Client{}),
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("vercel api %d: %s", e.Status, e.Message)
}

func (t *transport) buildURL(path string) string {
	u, _ := url.Parse(t.baseURL + path)
	if t.teamID != "" {
		q := u.Query()
		q.Set("teamId", t.teamID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (t *transport) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.buildURL(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &errBody)
		message := errBody.Error.Message
		if message == "" {
			message = string(raw)
		}
		return &apiError{Status: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
