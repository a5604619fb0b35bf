package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound: the customer does not exist or is soft-deleted.
	ErrNotFound = errors.New("customer not found")
	// ErrForbidden: the identity service rejected our service token.
	ErrForbidden = errors.New("customers service rejected credentials")
	// ErrUpstream: transport fault or unexpected status; safe to retry.
	ErrUpstream = errors.New("customers service unavailable")
)

type Customer struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// Client wraps the identity service's internal lookup endpoint,
// authenticated with a static bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Get fetches the customer record. Callers must treat any non-nil error as
// a deny; only ErrUpstream is retryable.
func (c *Client) Get(ctx context.Context, id int64) (Customer, error) {
	url := fmt.Sprintf("%s/internal/customers/%d", c.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Customer{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Customer{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var cu Customer
		if err := json.NewDecoder(resp.Body).Decode(&cu); err != nil {
			return Customer{}, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
		}
		if cu.DeletedAt != nil {
			return Customer{}, ErrNotFound
		}
		return cu, nil
	case http.StatusNotFound:
		return Customer{}, ErrNotFound
	case http.StatusForbidden:
		return Customer{}, ErrForbidden
	default:
		return Customer{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
}

// Validate is the allow/deny gate used before order creation.
func (c *Client) Validate(ctx context.Context, id int64) error {
	_, err := c.Get(ctx, id)
	return err
}
