package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// Binance signs the request query string with hex-encoded HMAC-SHA256 and
// authenticates with the X-MBX-APIKEY header. Native symbols have no
// separator (BTC/USDT -> BTCUSDT).
type Binance struct {
	cfg model.VenueConfig
	t   *transport
}

func NewBinance(cfg model.VenueConfig) *Binance {
	return &Binance{cfg: cfg, t: newTransport(cfg)}
}

func (b *Binance) Venue() string { return b.cfg.ID }

func (b *Binance) symbol(internal string) string {
	return strings.ToUpper(strings.ReplaceAll(internal, "/", ""))
}

// sign appends timestamp and signature to the query per Binance's
// documented scheme. The signature covers the encoded query string only.
func (b *Binance) sign(v url.Values, ts time.Time) string {
	v.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	v.Set("recvWindow", "5000")
	query := v.Encode()
	mac := hmac.New(sha256.New, []byte(b.cfg.Credentials.APISecret))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) signedRequest(ctx context.Context, method, path string, v url.Values) (*http.Request, error) {
	signed := b.sign(v, time.Now())
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path+"?"+signed, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.Credentials.APIKey)
	return req, nil
}

type binanceAccountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (b *Binance) GetBalance(ctx context.Context, asset string) (*model.Balance, error) {
	body, _, err := b.t.Do(ctx, "get_balance", func(ctx context.Context) (*http.Request, error) {
		return b.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	})
	if err != nil {
		return nil, err
	}

	var acct binanceAccountResp
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "invalid balance payload from binance", err)
	}

	asset = strings.ToUpper(asset)
	for _, bal := range acct.Balances {
		if strings.ToUpper(bal.Asset) != asset {
			continue
		}
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid free amount from binance", err)
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid locked amount from binance", err)
		}
		return &model.Balance{
			Venue:      b.cfg.ID,
			Asset:      asset,
			Available:  free,
			Locked:     locked,
			Total:      free.Add(locked),
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	// Binance omits assets the account never touched.
	return &model.Balance{Venue: b.cfg.ID, Asset: asset, ObservedAt: time.Now().UTC()}, nil
}

type binanceOrderResp struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func (b *Binance) PlaceOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	v := url.Values{}
	v.Set("symbol", b.symbol(p.Symbol))
	v.Set("side", string(p.Side))
	v.Set("type", string(p.Type))
	v.Set("quantity", p.Amount.String())
	if p.Type == model.OrderTypeLimit {
		v.Set("price", p.Price.String())
		v.Set("timeInForce", "GTC")
	}
	if p.ClientID != "" {
		v.Set("newClientOrderId", p.ClientID)
	}
	v.Set("newOrderRespType", "RESULT")

	body, _, err := b.t.Do(ctx, "place_order", func(ctx context.Context) (*http.Request, error) {
		return b.signedRequest(ctx, http.MethodPost, "/api/v3/order", cloneValues(v))
	})
	if err != nil {
		return nil, err
	}
	return b.parseOrder(body)
}

func (b *Binance) GetOrderStatus(ctx context.Context, externalID, symbol string) (*OrderAck, error) {
	v := url.Values{}
	v.Set("symbol", b.symbol(symbol))
	v.Set("orderId", externalID)

	body, _, err := b.t.Do(ctx, "order_status", func(ctx context.Context) (*http.Request, error) {
		return b.signedRequest(ctx, http.MethodGet, "/api/v3/order", cloneValues(v))
	})
	if err != nil {
		return nil, err
	}
	return b.parseOrder(body)
}

func (b *Binance) CancelOrder(ctx context.Context, externalID, symbol string) error {
	v := url.Values{}
	v.Set("symbol", b.symbol(symbol))
	v.Set("orderId", externalID)

	_, _, err := b.t.Do(ctx, "cancel_order", func(ctx context.Context) (*http.Request, error) {
		return b.signedRequest(ctx, http.MethodDelete, "/api/v3/order", cloneValues(v))
	})
	return err
}

func (b *Binance) parseOrder(body []byte) (*OrderAck, error) {
	var resp binanceOrderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "invalid order payload from binance", err)
	}
	filled, _ := decimal.NewFromString(resp.ExecutedQty)
	quote, _ := decimal.NewFromString(resp.CummulativeQuoteQty)
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = quote.Div(filled)
	}
	return &OrderAck{
		ExternalID:   fmt.Sprintf("%d", resp.OrderID),
		Status:       binanceStatus(resp.Status, filled),
		FilledAmount: filled,
		AvgPrice:     avg,
	}, nil
}

func binanceStatus(s string, filled decimal.Decimal) model.OrderStatus {
	switch s {
	case "NEW":
		return model.OrderOpen
	case "PARTIALLY_FILLED":
		return model.OrderPartiallyFilled
	case "FILLED":
		return model.OrderFilled
	case "CANCELED", "PENDING_CANCEL":
		return model.OrderCancelled
	case "REJECTED":
		return model.OrderRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		// venue-final either way; a partial fill must still settle and
		// release its remaining reservation
		if filled.IsPositive() {
			return model.OrderCancelled
		}
		return model.OrderRejected
	default:
		return model.OrderPending
	}
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vals := range v {
		for _, val := range vals {
			out.Add(k, val)
		}
	}
	return out
}
