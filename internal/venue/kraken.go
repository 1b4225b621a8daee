package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// Kraken signs path + SHA256(nonce + postdata) with HMAC-SHA512 keyed by
// the base64-decoded secret and sends the base64 signature in API-Sign.
// Kraken keeps the legacy XBT ticker for BTC, so assets are aliased both
// ways at the adapter boundary.
type Kraken struct {
	cfg   model.VenueConfig
	t     *transport
	nonce atomic.Int64
}

func NewKraken(cfg model.VenueConfig) *Kraken {
	k := &Kraken{cfg: cfg, t: newTransport(cfg)}
	k.nonce.Store(time.Now().UnixMilli())
	return k
}

func (k *Kraken) Venue() string { return k.cfg.ID }

// toNative maps internal asset names to Kraken's vocabulary.
func krakenAsset(asset string) string {
	if strings.EqualFold(asset, "BTC") {
		return "XBT"
	}
	return strings.ToUpper(asset)
}

// fromNative reverses krakenAsset, tolerating Kraken's X/Z prefixes
// (XXBT, ZUSD) in balance keys.
func internalAsset(native string) string {
	native = strings.ToUpper(native)
	if len(native) == 4 && (native[0] == 'X' || native[0] == 'Z') {
		native = native[1:]
	}
	if native == "XBT" {
		return "BTC"
	}
	return native
}

func (k *Kraken) pair(symbol string) string {
	base, quote := model.BaseQuote(symbol)
	return krakenAsset(base) + krakenAsset(quote)
}

func (k *Kraken) nextNonce() string {
	return strconv.FormatInt(k.nonce.Add(1), 10)
}

func (k *Kraken) sign(path, nonce, postdata string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(k.cfg.Credentials.APISecret)
	if err != nil {
		return "", apperrors.New(apperrors.ErrAuthFailed, "kraken secret is not valid base64", err)
	}
	sum := sha256.Sum256([]byte(nonce + postdata))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (k *Kraken) signedRequest(ctx context.Context, path string, v url.Values) (*http.Request, error) {
	nonce := k.nextNonce()
	v.Set("nonce", nonce)
	postdata := v.Encode()

	sig, err := k.sign(path, nonce, postdata)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.BaseURL+path, strings.NewReader(postdata))
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", k.cfg.Credentials.APIKey)
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// krakenResult unwraps Kraken's envelope. Kraken reports errors in-band
// with HTTP 200, so error strings are classified here instead of by status
// code.
func krakenResult(body []byte, out any) error {
	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apperrors.New(apperrors.ErrUpstream, "invalid payload from kraken", err)
	}
	if len(envelope.Error) > 0 {
		msg := strings.Join(envelope.Error, "; ")
		switch {
		case strings.Contains(msg, "Invalid key"), strings.Contains(msg, "Invalid signature"), strings.Contains(msg, "Permission denied"):
			return apperrors.Newf(apperrors.ErrAuthFailed, "kraken rejected credentials: %s", msg)
		case strings.Contains(msg, "Rate limit"):
			return apperrors.Newf(apperrors.ErrRateLimited, "kraken rate limited the request")
		case strings.HasPrefix(msg, "EService"):
			return apperrors.Newf(apperrors.ErrUpstream, "kraken unavailable: %s", msg)
		default:
			return apperrors.Newf(apperrors.ErrBusinessReject, "kraken declined the request: %s", msg)
		}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return apperrors.New(apperrors.ErrUpstream, "invalid result payload from kraken", err)
		}
	}
	return nil
}

func (k *Kraken) GetBalance(ctx context.Context, asset string) (*model.Balance, error) {
	body, _, err := k.t.Do(ctx, "get_balance", func(ctx context.Context) (*http.Request, error) {
		return k.signedRequest(ctx, "/0/private/Balance", url.Values{})
	})
	if err != nil {
		return nil, err
	}

	balances := map[string]string{}
	if err := krakenResult(body, &balances); err != nil {
		return nil, err
	}

	want := strings.ToUpper(asset)
	for native, raw := range balances {
		if internalAsset(native) != want {
			continue
		}
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "invalid balance amount from kraken", err)
		}
		// The Balance endpoint reports no hold split.
		return &model.Balance{
			Venue:      k.cfg.ID,
			Asset:      want,
			Available:  total,
			Total:      total,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	return &model.Balance{Venue: k.cfg.ID, Asset: want, ObservedAt: time.Now().UTC()}, nil
}

func (k *Kraken) PlaceOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	v := url.Values{}
	v.Set("pair", k.pair(p.Symbol))
	v.Set("type", strings.ToLower(string(p.Side)))
	v.Set("ordertype", strings.ToLower(string(p.Type)))
	v.Set("volume", p.Amount.String())
	if p.Type == model.OrderTypeLimit {
		v.Set("price", p.Price.String())
	}
	if p.ClientID != "" {
		v.Set("cl_ord_id", p.ClientID)
	}

	body, _, err := k.t.Do(ctx, "place_order", func(ctx context.Context) (*http.Request, error) {
		return k.signedRequest(ctx, "/0/private/AddOrder", cloneValues(v))
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := krakenResult(body, &result); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, apperrors.Newf(apperrors.ErrUpstream, "kraken returned no transaction id")
	}
	return &OrderAck{ExternalID: result.TxID[0], Status: model.OrderOpen}, nil
}

type krakenOrderInfo struct {
	Status  string `json:"status"`
	VolExec string `json:"vol_exec"`
	Price   string `json:"price"`
	Fee     string `json:"fee"`
}

func (k *Kraken) GetOrderStatus(ctx context.Context, externalID, _ string) (*OrderAck, error) {
	v := url.Values{}
	v.Set("txid", externalID)

	body, _, err := k.t.Do(ctx, "order_status", func(ctx context.Context) (*http.Request, error) {
		return k.signedRequest(ctx, "/0/private/QueryOrders", cloneValues(v))
	})
	if err != nil {
		return nil, err
	}

	orders := map[string]krakenOrderInfo{}
	if err := krakenResult(body, &orders); err != nil {
		return nil, err
	}
	info, ok := orders[externalID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "kraken does not know order %s", externalID)
	}

	filled, _ := decimal.NewFromString(info.VolExec)
	avg, _ := decimal.NewFromString(info.Price)
	fees, _ := decimal.NewFromString(info.Fee)
	return &OrderAck{
		ExternalID:   externalID,
		Status:       krakenStatus(info.Status, filled),
		FilledAmount: filled,
		AvgPrice:     avg,
		Fees:         fees,
	}, nil
}

func (k *Kraken) CancelOrder(ctx context.Context, externalID, _ string) error {
	v := url.Values{}
	v.Set("txid", externalID)

	body, _, err := k.t.Do(ctx, "cancel_order", func(ctx context.Context) (*http.Request, error) {
		return k.signedRequest(ctx, "/0/private/CancelOrder", cloneValues(v))
	})
	if err != nil {
		return err
	}
	return krakenResult(body, nil)
}

func krakenStatus(s string, filled decimal.Decimal) model.OrderStatus {
	switch s {
	case "pending":
		return model.OrderPending
	case "open":
		if filled.IsPositive() {
			return model.OrderPartiallyFilled
		}
		return model.OrderOpen
	case "closed":
		return model.OrderFilled
	case "canceled", "cancelled":
		return model.OrderCancelled
	case "expired":
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
