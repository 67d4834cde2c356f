// ==================================
// File: internal/journal/models.go
// ==================================
package journal

import "time"

// BaseModel replaces gorm.Model for tighter control over timestamps.
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Trade is one executed swap, buy or sell.
type Trade struct {
	BaseModel
	Signature string  `gorm:"unique;not null;type:varchar(88)"`
	Mint      string  `gorm:"index;not null;type:varchar(44)"`
	Side      string  `gorm:"not null;type:varchar(4)"`
	Price     float64 `gorm:"type:decimal(20,9)"`
	Amount    float64 `gorm:"type:decimal(20,9);not null"`
	// Stage is the take-profit stage index, -1 for buys and non-stage sells.
	Stage int `gorm:"not null;default:-1"`
}

// PositionRecord is the final state of a closed position.
type PositionRecord struct {
	BaseModel
	Mint          string  `gorm:"index;not null;type:varchar(44)"`
	QuoteMint     string  `gorm:"not null;type:varchar(44)"`
	BuyPrice      float64 `gorm:"type:decimal(20,9);not null"`
	InitialAmount float64 `gorm:"type:decimal(20,9);not null"`

	// RealizedPnL is proceeds of all sells minus cost basis, in USD.
	RealizedPnL float64   `gorm:"type:decimal(20,9)"`
	ExitReason  string    `gorm:"not null;type:varchar(20)"`
	OpenedAt    time.Time `gorm:"index;not null"`
	ClosedAt    time.Time `gorm:"not null"`
}
