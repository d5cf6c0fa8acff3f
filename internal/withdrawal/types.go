package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the bucket a withdrawal request belongs to on the panel.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReserved   Status = "reserved"
	StatusProcessing Status = "processing"
)

// Statuses lists every status in the order a scan cycle visits them.
var Statuses = []Status{
	StatusPending,
	StatusReserved,
	StatusProcessing,
}

// FilterValue is the value the panel's status filter uses for s.
func (s Status) FilterValue() string {
	switch s {
	case StatusPending:
		return "0"
	case StatusReserved:
		return "4"
	case StatusProcessing:
		return "3"
	}
	return ""
}

func (s Status) Valid() bool {
	return s.FilterValue() != ""
}

// Record is one row of the withdrawal table as it was rendered at scan time.
type Record struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	PlayerID      string          `json:"player_id"`
	Username      string          `json:"username"`
	FullName      string          `json:"full_name"`
	AmountText    string          `json:"amount_text"`
	Amount        decimal.Decimal `json:"amount"`
	Extra         string          `json:"extra"`
	PaymentMethod string          `json:"payment_method"`
	Note          string          `json:"note"`
	Status        Status          `json:"status"`
	StatusLabel   string          `json:"status_label"`
	ManagerNote   string          `json:"manager_note"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	CreatedTime   time.Time       `json:"created_time"`
	UpdatedTime   time.Time       `json:"updated_time"`
	Manager       string          `json:"manager"`

	HasAcceptAction bool `json:"has_accept_action"`
	HasRejectAction bool `json:"has_reject_action"`
}

// Bucket holds the records of a single status.
type Bucket struct {
	Status  Status   `json:"status"`
	Records []Record `json:"records"`
	// DeclaredCount is the total reported by the panel, it is authoritative
	// over len(Records) since the table may only show one page.
	DeclaredCount int             `json:"declared_count"`
	SumAmount     decimal.Decimal `json:"sum_amount"`
	// CountMismatch is set when the panel declares fewer rows than are visible.
	CountMismatch bool   `json:"count_mismatch"`
	Failed        bool   `json:"failed"`
	Error         string `json:"error,omitempty"`
}

// NewBucket creates a bucket from visible records and the declared count.
func NewBucket(status Status, records []Record, declared int) Bucket {
	if records == nil {
		records = []Record{}
	}
	return Bucket{
		Status:        status,
		Records:       records,
		DeclaredCount: declared,
		SumAmount:     SumAmounts(records),
		CountMismatch: declared < len(records),
	}
}

// FailedBucket is the empty bucket recorded when a status could not be read.
func FailedBucket(status Status, err error) Bucket {
	b := Bucket{
		Status:  status,
		Records: []Record{},
		Failed:  true,
	}
	if err != nil {
		b.Error = err.Error()
	}
	return b
}

// ScanResult is the outcome of one scan cycle. It is never mutated after
// being published.
type ScanResult struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Buckets    []Bucket  `json:"buckets"`
}

// Bucket returns the bucket for status, the second return value is false
// when the result does not contain it.
func (r ScanResult) Bucket(status Status) (Bucket, bool) {
	for _, b := range r.Buckets {
		if b.Status == status {
			return b, true
		}
	}
	return Bucket{}, false
}

// AllFailed reports whether every bucket of the result failed.
func (r ScanResult) AllFailed() bool {
	if len(r.Buckets) == 0 {
		return false
	}
	for _, b := range r.Buckets {
		if !b.Failed {
			return false
		}
	}
	return true
}

// TotalRecords is the number of visible records across all buckets.
func (r ScanResult) TotalRecords() int {
	total := 0
	for _, b := range r.Buckets {
		total += len(b.Records)
	}
	return total
}

// TotalDeclared is the sum of the declared counts across all buckets.
func (r ScanResult) TotalDeclared() int {
	total := 0
	for _, b := range r.Buckets {
		total += b.DeclaredCount
	}
	return total
}

// FindRecord searches every bucket for the record with the given id.
func (r ScanResult) FindRecord(id string) (Record, bool) {
	for _, b := range r.Buckets {
		for _, rec := range b.Records {
			if rec.ID == id {
				return rec, true
			}
		}
	}
	return Record{}, false
}
