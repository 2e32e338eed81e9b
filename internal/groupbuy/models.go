package groupbuy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID               string
	Name             string
	Stock            int
	Price            decimal.Decimal
	WarningThreshold int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Campaign is a time-boxed group-buy offer. Target and Current count units, not people.
type Campaign struct {
	ID        string
	ProductID string
	LeaderID  string
	Target    int
	Current   int
	StartTime time.Time
	EndTime   time.Time
	Status    CampaignStatus // lihat status.go
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns the number of unclaimed units.
func (c Campaign) Remaining() int {
	if r := c.Target - c.Current; r > 0 {
		return r
	}
	return 0
}

type Order struct {
	ID            string
	ExternalID    string
	UserID        string
	CampaignID    string
	TotalPrice    decimal.Decimal
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Lines         []OrderLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderLine keeps the unit price captured at join time.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type User struct {
	ID            string
	LoyaltyPoints int
	TierID        string
}

type MembershipTier struct {
	ID                 string
	Name               string
	DiscountPercentage decimal.Decimal
	PointsRequired     int
}

// CommissionEntry is written once, when an order completes.
type CommissionEntry struct {
	OrderID    string
	LeaderID   string
	CampaignID string
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	CreatedAt  time.Time
}
