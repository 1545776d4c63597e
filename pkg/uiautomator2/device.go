package uiautomator2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Screenshot returns the current screen as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/screenshot"), nil)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	b64, ok := resp.Value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected screenshot response")
	}
	return decodeBase64(b64)
}

// Source returns the UI hierarchy XML.
func (c *Client) Source(ctx context.Context) (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}

	source, ok := resp.Value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected source response")
	}
	return source, nil
}

// GetDeviceInfo returns device details.
func (c *Client) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/appium/device/info"), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value DeviceInfo `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// decodeBase64 tolerates line breaks the server may insert.
func decodeBase64(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
