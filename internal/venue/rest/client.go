// Package rest implements the venue adapter over a JSON REST API with
// HMAC-authenticated requests.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantshed/bandkeeper/internal/domain"
)

// Client is the REST client for the venue order API. It implements
// domain.VenueAdapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *HMACAuth
}

// NewClient creates a venue REST client. timeout bounds every request; the
// keeper never cancels in-flight venue calls itself.
func NewClient(baseURL string, auth *HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
	}
}

type apiOrder struct {
	ID              string `json:"id"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	RemainingAmount string `json:"remainingAmount"`
}

func (a apiOrder) toDomain() (domain.Order, error) {
	price, err := decimal.NewFromString(a.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: price %q: %w", a.ID, a.Price, err)
	}
	remaining, err := decimal.NewFromString(a.RemainingAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: remaining %q: %w", a.ID, a.RemainingAmount, err)
	}
	return domain.Order{
		ID:              a.ID,
		Side:            domain.Side(a.Side),
		Price:           price,
		RemainingAmount: remaining,
	}, nil
}

// GetOrders returns all open orders for the authenticated account.
func (c *Client) GetOrders(ctx context.Context) ([]domain.Order, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: get orders: %w", err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("venue/rest: decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, a := range raw {
		o, err := a.toDomain()
		if err != nil {
			return nil, fmt.Errorf("venue/rest: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetBalances returns the account balances keyed by token symbol.
func (c *Client) GetBalances(ctx context.Context) (domain.Balances, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: get balances: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("venue/rest: decode balances: %w", err)
	}

	balances := make(domain.Balances, len(raw))
	for token, amount := range raw {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("venue/rest: balance %s %q: %w", token, amount, err)
		}
		balances[token] = d
	}
	return balances, nil
}

// PlaceOrder submits the intent with a fresh client order ID. A rejection
// (HTTP 4xx with an accepted=false body) yields a nil order and nil error:
// the order was not placed, which is not a transport failure.
func (c *Client) PlaceOrder(ctx context.Context, order domain.NewOrder) (*domain.Order, error) {
	payload := map[string]any{
		"clientId":  uuid.New().String(),
		"side":      string(order.Side),
		"price":     order.Price.String(),
		"payAmount": order.PayAmount.String(),
		"buyAmount": order.BuyAmount.String(),
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: place order: %w", err)
	}

	var resp struct {
		Accepted bool     `json:"accepted"`
		Message  string   `json:"message"`
		Order    apiOrder `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue/rest: decode place response: %w", err)
	}
	if !resp.Accepted {
		return nil, nil
	}

	placed, err := resp.Order.toDomain()
	if err != nil {
		return nil, fmt.Errorf("venue/rest: %w", err)
	}
	return &placed, nil
}

// CancelOrder requests cancellation of the given order. The returned bool
// reports whether the venue confirmed the cancel.
func (c *Client) CancelOrder(ctx context.Context, order domain.Order) (bool, error) {
	body, err := c.doRequest(ctx, http.MethodDelete, "/orders/"+order.ID, nil)
	if err != nil {
		return false, fmt.Errorf("venue/rest: cancel order %s: %w", order.ID, err)
	}

	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("venue/rest: decode cancel response: %w", err)
	}
	return resp.Cancelled, nil
}

// doRequest performs a signed HTTP request and returns the response body.
// Non-2xx statuses are errors except 400/409 on placement, which surface
// through the decoded body instead.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyStr string
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		bodyStr = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVenue, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict {
		// Rejections carry a decodable body.
		return respBody, nil
	}
	return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrVenue, method, path, resp.StatusCode)
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Client)(nil)
