package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/google/uuid"
)

// ComplianceReporter is invoked exactly once per accepted order, after
// the venue acknowledges it. Reporting failures must not fail the order.
type ComplianceReporter interface {
	ReportOrder(ctx context.Context, order *model.InternalOrder) (ref string, err error)
}

// ComplianceReport is the regulator-facing record of one order.
type ComplianceReport struct {
	Ref        string    `json:"ref"`
	OrderID    string    `json:"order_id"`
	TenantID   string    `json:"tenant_id"`
	BrokerID   string    `json:"broker_id"`
	UserID     string    `json:"user_id"`
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Amount     string    `json:"amount"`
	Price      string    `json:"price"`
	ExternalID string    `json:"external_id"`
	ReportedAt time.Time `json:"reported_at"`
}

// FileReporter appends reports to a day-rotated jsonl file.
type FileReporter struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
	enc  *json.Encoder
}

func NewFileReporter(dir string) (*FileReporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileReporter{dir: dir}, nil
}

func (r *FileReporter) ReportOrder(_ context.Context, order *model.InternalOrder) (string, error) {
	report := ComplianceReport{
		Ref:        uuid.NewString(),
		OrderID:    order.ID,
		TenantID:   order.TenantID,
		BrokerID:   order.BrokerID,
		UserID:     order.UserID,
		Venue:      order.Venue,
		Symbol:     order.Symbol,
		Side:       string(order.Side),
		Amount:     order.Amount.String(),
		Price:      order.Price.String(),
		ExternalID: order.ExternalID,
		ReportedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rotate(); err != nil {
		return "", err
	}
	if err := r.enc.Encode(report); err != nil {
		return "", err
	}
	return report.Ref, nil
}

func (r *FileReporter) rotate() error {
	day := time.Now().UTC().Format("2006-01-02")
	if r.file != nil && r.day == day {
		return nil
	}
	if r.file != nil {
		_ = r.file.Close()
	}
	f, err := os.OpenFile(filepath.Join(r.dir, "compliance-"+day+".jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.enc = json.NewEncoder(f)
	r.day = day
	return nil
}

func (r *FileReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
