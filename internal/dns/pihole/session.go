package pihole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yuriy-kovalchuk/yk-tailsync/internal/dns"
)

// authResponse is the shape returned by the auth endpoint.
type authResponse struct {
	Session struct {
		Valid    bool   `json:"valid"`
		SID      string `json:"sid"`
		Validity int    `json:"validity"`
		Message  string `json:"message"`
	} `json:"session"`
}

// authenticate exchanges the configured password for a fresh session ID.
func (b *Backend) authenticate(ctx context.Context) error {
	b.sid = ""

	resp, err := b.send(ctx, http.MethodPost, "auth", map[string]string{"password": b.password}, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ar authResponse
	if resp.StatusCode != http.StatusOK {
		// The body may be an intermediary's error page rather than the
		// session envelope; the status line alone settles the outcome.
		_ = json.NewDecoder(resp.Body).Decode(&ar)
		return fmt.Errorf("pihole: authentication failed (status %d, message %q): %w",
			resp.StatusCode, ar.Session.Message, dns.ErrUnauthorized)
	}
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("pihole: decode auth response: %w", err)
	}
	if !ar.Session.Valid || ar.Session.SID == "" {
		return fmt.Errorf("pihole: authentication failed (status %d, message %q): %w",
			resp.StatusCode, ar.Session.Message, dns.ErrUnauthorized)
	}

	b.sid = ar.Session.SID
	b.log.V(1).Info("session established", "validity", ar.Session.Validity)
	return nil
}

// do executes an authenticated request, establishing a session on first use.
// When the appliance rejects the current session mid-run it re-authenticates
// exactly once and replays the request; a second rejection is fatal.
func (b *Backend) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if b.sid == "" {
		if err := b.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := b.send(ctx, method, path, body, b.sid)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	b.log.Info("session rejected, re-authenticating", "method", method, "path", path)
	if err := b.authenticate(ctx); err != nil {
		return nil, err
	}

	resp, err = b.send(ctx, method, path, body, b.sid)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("pihole: %s %s rejected after re-authentication: %w", method, path, dns.ErrUnauthorized)
	}
	return resp, nil
}

// send builds and executes a single HTTP request against the Pi-hole API.
func (b *Backend) send(ctx context.Context, method, path string, body interface{}, sid string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("pihole: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(b.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("pihole: build request: %w", err)
	}

	if sid != "" {
		req.Header.Set("X-FTL-SID", sid)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pihole: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// Close logs out of the appliance session. Logout failures are logged rather
// than returned; an abandoned session expires on its own.
func (b *Backend) Close(ctx context.Context) error {
	if b.sid == "" {
		return nil
	}

	resp, err := b.send(ctx, http.MethodDelete, "auth", nil, b.sid)
	if err != nil {
		b.log.V(1).Info("logout failed", "error", err.Error())
		b.sid = ""
		return nil
	}
	resp.Body.Close()

	b.sid = ""
	b.log.V(1).Info("session closed")
	return nil
}
