package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopsaga/internal/version"
)

const (
	headerUserID    = "X-User-Id"
	headerRequestID = "X-Request-Id"
)

// apiClient ходит в API заказов по HTTP.
type apiClient struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		userAgent: version.UserAgent("loadtest"),
	}
}

// apiResult — итог вызова: статус, код ошибки API и тело ответа.
type apiResult struct {
	status int
	code   string
	body   []byte
}

// outcome — метка для отчёта, например "201" или "409 SOLD_OUT".
func (r apiResult) outcome() string {
	if r.status == 0 {
		return "transport_error"
	}
	if r.code == "" {
		return strconv.Itoa(r.status)
	}
	return strconv.Itoa(r.status) + " " + r.code
}

func (c *apiClient) do(ctx context.Context, method, path string, ownerID int64, body any) (apiResult, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apiResult{}, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apiResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(headerRequestID, uuid.NewString())
	if ownerID > 0 {
		req.Header.Set(headerUserID, strconv.FormatInt(ownerID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResult{status: resp.StatusCode}, err
	}
	result := apiResult{status: resp.StatusCode, body: raw}
	if resp.StatusCode >= http.StatusBadRequest {
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil {
			result.code = env.Error.Code
		}
	}
	return result, nil
}

func (c *apiClient) placeOrder(ctx context.Context, ownerID, variantID, qty int64) (int64, apiResult, error) {
	res, err := c.do(ctx, http.MethodPost, "/orders", ownerID, map[string]int64{
		"variant_id": variantID,
		"quantity":   qty,
	})
	if err != nil || res.status != http.StatusCreated {
		return 0, res, err
	}
	var order struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(res.body, &order); err != nil {
		return 0, res, fmt.Errorf("decode order: %w", err)
	}
	return order.ID, res, nil
}

func (c *apiClient) pay(ctx context.Context, ownerID, orderID int64) (apiResult, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/payment", orderID), ownerID, nil)
}

func (c *apiClient) cancel(ctx context.Context, ownerID, orderID int64) (apiResult, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", orderID), ownerID, nil)
}

func (c *apiClient) stock(ctx context.Context, variantID int64) (int64, error) {
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/variants/%d/stock", variantID), 0, nil)
	if err != nil {
		return 0, err
	}
	if res.status != http.StatusOK {
		return 0, fmt.Errorf("stock request failed: %s", res.outcome())
	}
	var payload struct {
		Stock int64 `json:"stock"`
	}
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return 0, fmt.Errorf("decode stock: %w", err)
	}
	return payload.Stock, nil
}
