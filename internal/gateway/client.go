package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 10 * time.Second

// ErrUnavailable wraps every transport or non-2xx failure of a provider call.
var ErrUnavailable = errors.New("gateway unavailable")

// Client talks JSON to a payment provider authenticated with HTTP basic auth.
type Client struct {
	baseURL string
	key     string
	secret  string
	timeout time.Duration
}

// NewClient builds a provider client. A zero timeout uses ten seconds.
func NewClient(baseURL, key, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), key: key, secret: secret, timeout: timeout}
}

// PostJSON sends body to path and decodes a 2xx response into out. The call is
// bounded by the client timeout or the context deadline, whichever is sooner.
func (c *Client) PostJSON(ctx context.Context, path, idempotencyKey string, body, out any) error {
	timeout, err := c.budget(ctx)
	if err != nil {
		return err
	}
	agent := fiber.Post(c.baseURL + path).JSON(body)
	if idempotencyKey != "" {
		agent.Set("Idempotency-Key", idempotencyKey)
	}
	return c.send(agent, timeout, out)
}

// GetJSON fetches path and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	timeout, err := c.budget(ctx)
	if err != nil {
		return err
	}
	return c.send(fiber.Get(c.baseURL+path), timeout, out)
}

func (c *Client) budget(ctx context.Context) (time.Duration, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, context.DeadlineExceeded)
		}
		timeout = min(timeout, remaining)
	}
	return timeout, nil
}

func (c *Client) send(agent *fiber.Agent, timeout time.Duration, out any) error {
	code, raw, errs := agent.BasicAuth(c.key, c.secret).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, truncate(raw, 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
