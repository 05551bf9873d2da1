package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labwatch/internal/domain"
)

// APIClient calls the server's device endpoints
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a client for the server at serverAddr, which may be
// host:port or a URL.
func NewAPIClient(serverAddr, token string) *APIClient {
	return &APIClient{
		baseURL: httpBase(serverAddr),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func httpBase(addr string) string {
	addr = strings.TrimSuffix(addr, "/")
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return addr
	case strings.HasPrefix(addr, "ws://"):
		return "http://" + strings.TrimPrefix(addr, "ws://")
	case strings.HasPrefix(addr, "wss://"):
		return "https://" + strings.TrimPrefix(addr, "wss://")
	}
	return "http://" + addr
}

// ResolveDeviceID returns the server-side id registered for hw
func (c *APIClient) ResolveDeviceID(ctx context.Context, hw string) (string, error) {
	var resp struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.do(ctx, http.MethodGet, hw, "id", nil, &resp); err != nil {
		return "", err
	}
	return resp.DeviceID, nil
}

// ActiveUser returns the user bound to hw, or ErrUnauthenticated if none
func (c *APIClient) ActiveUser(ctx context.Context, hw string) (*domain.DeviceUser, error) {
	var user domain.DeviceUser
	if err := c.do(ctx, http.MethodGet, hw, "active-user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ReportPower records a power transition for hw
func (c *APIClient) ReportPower(ctx context.Context, hw string, state domain.PowerState) error {
	return c.do(ctx, http.MethodPost, hw, "power", map[string]domain.PowerState{"state": state}, nil)
}

// ForceLogout ends whatever session hw holds
func (c *APIClient) ForceLogout(ctx context.Context, hw string) error {
	return c.do(ctx, http.MethodPost, hw, "force-logout", nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, hw, action string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("%s/api/v1/devices/%s/%s", c.baseURL, url.PathEscape(hw), action)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = domain.ErrDeviceNotFound
	case http.StatusUnauthorized:
		sentinel = domain.ErrUnauthenticated
	case http.StatusForbidden:
		sentinel = domain.ErrUnauthorized
	case http.StatusConflict:
		sentinel = domain.ErrDeviceBusy
	default:
		sentinel = domain.ErrInternal
	}
	if body.Error == "" {
		return fmt.Errorf("%w: %s", sentinel, resp.Status)
	}
	return fmt.Errorf("%w: %s", sentinel, body.Error)
}
