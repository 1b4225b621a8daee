package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// Coinbase signs timestamp+method+path+body with HMAC-SHA256 keyed by the
// base64-decoded secret and sends the base64 signature alongside the key,
// timestamp, and passphrase headers. Native symbols are dash separated
// (BTC/USDT -> BTC-USDT).
type Coinbase struct {
	cfg model.VenueConfig
	t   *transport
}

func NewCoinbase(cfg model.VenueConfig) *Coinbase {
	return &Coinbase{cfg: cfg, t: newTransport(cfg)}
}

func (c *Coinbase) Venue() string { return c.cfg.ID }

func (c *Coinbase) symbol(internal string) string {
	return strings.ToUpper(strings.ReplaceAll(internal, "/", "-"))
}

func (c *Coinbase) sign(ts, method, path, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(c.cfg.Credentials.APISecret)
	if err != nil {
		return "", apperrors.New(apperrors.ErrAuthFailed, "coinbase secret is not valid base64", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *Coinbase) signedRequest(ctx context.Context, method, path, body string) (*http.Request, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.sign(ts, method, path, body)
	if err != nil {
		return nil, err
	}
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("CB-ACCESS-KEY", c.cfg.Credentials.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", sig)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.cfg.Credentials.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type coinbaseAccount struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
	Balance   string `json:"balance"`
}

func (c *Coinbase) GetBalance(ctx context.Context, asset string) (*model.Balance, error) {
	body, _, err := c.t.Do(ctx, "get_balance", func(ctx context.Context) (*http.Request, error) {
		return c.signedRequest(ctx, http.MethodGet, "/accounts", "")
	})
	if err != nil {
		return nil, err
	}

	var accounts []coinbaseAccount
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "invalid accounts payload from coinbase", err)
	}

	asset = strings.ToUpper(asset)
	for _, acct := range accounts {
		if strings.ToUpper(acct.Currency) != asset {
			continue
		}
		available, err := decimal.NewFromString(acct.Available)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid available amount from coinbase", err)
		}
		hold, err := decimal.NewFromString(acct.Hold)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid hold amount from coinbase", err)
		}
		total, err := decimal.NewFromString(acct.Balance)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid balance amount from coinbase", err)
		}
		return &model.Balance{
			Venue:      c.cfg.ID,
			Asset:      asset,
			Available:  available,
			Locked:     hold,
			Total:      total,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	return &model.Balance{Venue: c.cfg.ID, Asset: asset, ObservedAt: time.Now().UTC()}, nil
}

type coinbaseOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	FillFees      string `json:"fill_fees"`
}

func (c *Coinbase) PlaceOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	payload := map[string]any{
		"product_id": c.symbol(p.Symbol),
		"side":       strings.ToLower(string(p.Side)),
		"type":       strings.ToLower(string(p.Type)),
		"size":       p.Amount.String(),
	}
	if p.Type == model.OrderTypeLimit {
		payload["price"] = p.Price.String()
	}
	if p.ClientID != "" {
		payload["client_oid"] = p.ClientID
	}
	raw, _ := json.Marshal(payload)
	reqBody := string(raw)

	body, _, err := c.t.Do(ctx, "place_order", func(ctx context.Context) (*http.Request, error) {
		return c.signedRequest(ctx, http.MethodPost, "/orders", reqBody)
	})
	if err != nil {
		return nil, err
	}
	return c.parseOrder(body)
}

func (c *Coinbase) GetOrderStatus(ctx context.Context, externalID, _ string) (*OrderAck, error) {
	body, _, err := c.t.Do(ctx, "order_status", func(ctx context.Context) (*http.Request, error) {
		return c.signedRequest(ctx, http.MethodGet, "/orders/"+externalID, "")
	})
	if err != nil {
		return nil, err
	}
	return c.parseOrder(body)
}

func (c *Coinbase) CancelOrder(ctx context.Context, externalID, _ string) error {
	_, _, err := c.t.Do(ctx, "cancel_order", func(ctx context.Context) (*http.Request, error) {
		return c.signedRequest(ctx, http.MethodDelete, "/orders/"+externalID, "")
	})
	return err
}

func (c *Coinbase) parseOrder(body []byte) (*OrderAck, error) {
	var o coinbaseOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "invalid order payload from coinbase", err)
	}
	filled, _ := decimal.NewFromString(o.FilledSize)
	executed, _ := decimal.NewFromString(o.ExecutedValue)
	fees, _ := decimal.NewFromString(o.FillFees)
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = executed.Div(filled)
	}
	return &OrderAck{
		ExternalID:   o.ID,
		Status:       coinbaseStatus(o.Status, o.DoneReason, filled),
		FilledAmount: filled,
		AvgPrice:     avg,
		Fees:         fees,
	}, nil
}

func coinbaseStatus(status, doneReason string, filled decimal.Decimal) model.OrderStatus {
	switch status {
	case "pending", "received":
		return model.OrderPending
	case "open", "active":
		if filled.IsPositive() {
			return model.OrderPartiallyFilled
		}
		return model.OrderOpen
	case "done":
		switch doneReason {
		case "filled":
			return model.OrderFilled
		case "canceled", "cancelled":
			return model.OrderCancelled
		default:
			return model.OrderRejected
		}
	case "rejected":
		return model.OrderRejected
	default:
		return model.OrderPending
	}
}
