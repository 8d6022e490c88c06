package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrUnauthorized is returned when the service rejects the token.
var ErrUnauthorized = errors.New("remote: unauthorized")

// APIError carries the {error} body of a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// User is the account profile the service returns.
type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Coins    decimal.Decimal `json:"coins"`
}

// UnmarshalJSON accepts both "id" and the document "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		DocID    string          `json:"_id"`
		Username string          `json:"username"`
		Email    string          `json:"email"`
		Coins    decimal.Decimal `json:"coins"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	if u.ID == "" {
		u.ID = raw.DocID
	}
	u.Username = raw.Username
	u.Email = raw.Email
	u.Coins = raw.Coins
	return nil
}

// Session is the result of a successful login.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Transaction is the reduced record the service keeps: coin amount and unit
// price only.
type Transaction struct {
	ID        string          `json:"_id,omitempty"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Profile is the full GET /api/user document.
type Profile struct {
	User
	Transactions []Transaction `json:"transactions"`
}

// UnmarshalJSON decodes the embedded user and the transaction list.
func (p *Profile) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &p.User); err != nil {
		return err
	}
	var raw struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Transactions = raw.Transactions
	return nil
}

// CoinOp selects the direction of a coin balance update.
type CoinOp string

const (
	CoinAdd      CoinOp = "add"
	CoinSubtract CoinOp = "subtract"
)

// Client talks to the account service over JSON HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient constructs a client. A zero timeout defaults to 10s.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "remote").Logger(),
	}
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/register", "", body, nil)
}

// Login exchanges credentials for a token and profile.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", "", body, &out); err != nil {
		return Session{}, err
	}
	if out.Token == "" {
		return Session{}, errors.New("remote: login response without token")
	}
	return out, nil
}

// GetAccount fetches the profile for token.
func (c *Client) GetAccount(ctx context.Context, token string) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/api/user", token, nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// UpdateCoins adds or subtracts amount and returns the new remote balance.
func (c *Client) UpdateCoins(ctx context.Context, token string, amount decimal.Decimal, op CoinOp) (decimal.Decimal, error) {
	body := map[string]any{"amount": json.Number(amount.String()), "type": op}
	var out struct {
		Coins decimal.Decimal `json:"coins"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/user/coins", token, body, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Coins, nil
}

// AddTransaction records a coin movement remotely.
func (c *Client) AddTransaction(ctx context.Context, token string, tx Transaction) error {
	body := map[string]any{
		"type":   tx.Type,
		"amount": json.Number(tx.Amount.String()),
		"price":  json.Number(tx.Price.String()),
	}
	return c.do(ctx, http.MethodPost, "/api/user/transactions", token, body, nil)
}

// ListTransactions returns the remote transaction history, oldest first.
func (c *Client) ListTransactions(ctx context.Context, token string) ([]Transaction, error) {
	var out []Transaction
	if err := c.do(ctx, http.MethodGet, "/api/user/transactions", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", path, err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			apiErr.Message = body.Error
		}
		c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Str("error", apiErr.Message).Msg("remote call rejected")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
