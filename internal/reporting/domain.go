package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotLine is one product's stock on hand at the snapshot cut.
type SnapshotLine struct {
	ProductID   int64           `json:"product_id"`
	ProductSKU  string          `json:"product_sku,omitempty"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Snapshot is a full stock on hand report. Every line is computed as of
// the same TakenAt instant, so the report is a consistent cut even
// though products are summed concurrently.
type Snapshot struct {
	TakenAt     time.Time      `json:"taken_at"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Products    int            `json:"products"`
	Lines       []SnapshotLine `json:"lines"`
}
