package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Fill is a push-delivered execution event for one of our venue orders.
type Fill struct {
	Venue        string
	ExternalID   string
	Status       model.OrderStatus
	FilledAmount decimal.Decimal
	AvgPrice     decimal.Decimal
	Fees         decimal.Decimal
	At           time.Time
}

// FillHandler receives fills as they arrive. The open-order sweep remains
// the backstop for anything the stream misses.
type FillHandler func(Fill)

// FillStream subscribes to a venue's user-data websocket channel and
// forwards execution events. It reconnects with a fixed delay until
// stopped.
type FillStream struct {
	cfg     model.VenueConfig
	handler FillHandler
	cancel  context.CancelFunc
	log     *slog.Logger
}

func NewFillStream(cfg model.VenueConfig, handler FillHandler) *FillStream {
	return &FillStream{
		cfg:     cfg,
		handler: handler,
		log:     logger.Component("fill-stream." + cfg.ID),
	}
}

func (s *FillStream) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *FillStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *FillStream) loop(ctx context.Context) {
	for {
		if err := s.connectAndRead(ctx); err != nil {
			s.log.Warn("fill stream disconnected", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *FillStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	sub := map[string]any{"type": "subscribe", "channel": "user"}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.log.Info("fill stream connected", "venue", s.cfg.ID)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *FillStream) authenticate(conn *websocket.Conn) error {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(s.cfg.Credentials.APISecret))
	mac.Write([]byte(ts + "GET/user"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return conn.WriteJSON(map[string]string{
		"type":       "auth",
		"key":        s.cfg.Credentials.APIKey,
		"signature":  sig,
		"timestamp":  ts,
		"passphrase": s.cfg.Credentials.Passphrase,
	})
}

type streamEvent struct {
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	FilledSize string `json:"filled_size"`
	AvgPrice   string `json:"avg_price"`
	Fees       string `json:"fees"`
}

func (s *FillStream) handleMessage(raw []byte) {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Type != "fill" && ev.Type != "order_update" {
		return
	}

	filled, _ := decimal.NewFromString(ev.FilledSize)
	avg, _ := decimal.NewFromString(ev.AvgPrice)
	fees, _ := decimal.NewFromString(ev.Fees)

	status := model.OrderPartiallyFilled
	switch ev.Status {
	case "filled":
		status = model.OrderFilled
	case "cancelled", "canceled":
		status = model.OrderCancelled
	}

	s.handler(Fill{
		Venue:        s.cfg.ID,
		ExternalID:   ev.OrderID,
		Status:       status,
		FilledAmount: filled,
		AvgPrice:     avg,
		Fees:         fees,
		At:           time.Now().UTC(),
	})
}
