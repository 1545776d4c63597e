package uiautomator2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Element represents a UI element on the device.
type Element struct {
	id     string
	client *Client
}

// ID returns the element ID.
func (e *Element) ID() string {
	return e.id
}

// ActiveElement returns the currently focused element.
func (c *Client) ActiveElement(ctx context.Context) (*Element, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/element/active"), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value struct {
			ELEMENT string `json:"ELEMENT"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	if resp.Value.ELEMENT == "" {
		return nil, fmt.Errorf("no active element")
	}

	return &Element{id: resp.Value.ELEMENT, client: c}, nil
}

// Clear clears the element's text.
func (e *Element) Clear(ctx context.Context) error {
	_, err := e.client.request(ctx, http.MethodPost, e.client.sessionPath("/element/"+e.id+"/clear"), nil)
	return err
}

// SendKeys types text into the element.
func (e *Element) SendKeys(ctx context.Context, text string) error {
	req := InputTextRequest{Text: text}
	_, err := e.client.request(ctx, http.MethodPost, e.client.sessionPath("/element/"+e.id+"/value"), req)
	return err
}
