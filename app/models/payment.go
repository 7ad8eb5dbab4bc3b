package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusExpired   = "expired"
)

const (
	PaymentProviderMercadoPago = "mercadopago_pix"
	PaymentProviderYooKassa    = "yookassa"
	PaymentProviderMock        = "mock"
)

// Payment is one attempt to pay for one access period. Rows are append-only:
// the ledger keeps every attempt, including abandoned ones where the gateway
// call failed after the insert.
type Payment struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         int64      `gorm:"not null;index" json:"user_id"`
	Provider       string     `gorm:"type:varchar(32);not null;index:ux_payments_provider_external,unique,priority:1" json:"provider"`
	Status         string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	AmountCents    int64      `gorm:"not null" json:"amount_cents"`
	Currency       string     `gorm:"type:varchar(8);not null" json:"currency"`
	Plan           string     `gorm:"type:varchar(32);not null;default:''" json:"plan"`
	ExternalID     *string    `gorm:"type:varchar(191);index:ux_payments_provider_external,unique,priority:2" json:"external_id,omitempty"`
	IdempotencyKey string     `gorm:"type:varchar(64);not null;index" json:"idempotency_key"`
	PayURL         string     `gorm:"type:text" json:"pay_url"`
	PixQRBase64    string     `gorm:"type:longtext" json:"pix_qr_base64"`
	PixCopyPaste   string     `gorm:"type:text" json:"pix_copy_paste"`
	RawMetaJSON    string     `gorm:"type:longtext" json:"raw_meta_json"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	PaidAt         *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
}

// IsTerminal reports whether no further status transition is permitted.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusPaid, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	default:
		return false
	}
}
