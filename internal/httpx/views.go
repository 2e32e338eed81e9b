package httpx

import (
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/campaign"
	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
)

type campaignView struct {
	ID        string                  `json:"id"`
	ProductID string                  `json:"product_id"`
	LeaderID  string                  `json:"leader_id"`
	Target    int                     `json:"target_participants"`
	Current   int                     `json:"current_participants"`
	Remaining int                     `json:"remaining_slots"`
	StartTime time.Time               `json:"start_time"`
	EndTime   time.Time               `json:"end_time"`
	Status    groupbuy.CampaignStatus `json:"status"`
}

func toCampaignView(c groupbuy.Campaign) campaignView {
	return campaignView{
		ID:        c.ID,
		ProductID: c.ProductID,
		LeaderID:  c.LeaderID,
		Target:    c.Target,
		Current:   c.Current,
		Remaining: c.Remaining(),
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		Status:    c.Status,
	}
}

type lineView struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderView struct {
	ID            string                 `json:"id"`
	CampaignID    string                 `json:"campaign_id"`
	UserID        string                 `json:"user_id"`
	TotalPrice    string                 `json:"total_price"`
	Status        groupbuy.OrderStatus   `json:"status"`
	PaymentStatus groupbuy.PaymentStatus `json:"payment_status"`
	Lines         []lineView             `json:"lines"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toOrderView(o groupbuy.Order) orderView {
	v := orderView{
		ID:            o.ID,
		CampaignID:    o.CampaignID,
		UserID:        o.UserID,
		TotalPrice:    groupbuy.Money(o.TotalPrice),
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Lines:         make([]lineView, 0, len(o.Lines)),
		CreatedAt:     o.CreatedAt,
	}
	for _, l := range o.Lines {
		v.Lines = append(v.Lines, lineView{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: groupbuy.Money(l.UnitPrice)})
	}
	return v
}

type productView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Stock            int    `json:"stock"`
	Price            string `json:"price"`
	WarningThreshold int    `json:"warning_threshold"`
}

func toProductView(p groupbuy.Product) productView {
	return productView{
		ID:               p.ID,
		Name:             p.Name,
		Stock:            p.Stock,
		Price:            groupbuy.Money(p.Price),
		WarningThreshold: p.WarningThreshold,
	}
}

type joinView struct {
	OrderID        string                  `json:"order_id"`
	TotalPrice     string                  `json:"total_price"`
	UnitPrice      string                  `json:"unit_price"`
	CampaignStatus groupbuy.CampaignStatus `json:"campaign_status"`
	Current        int                     `json:"current_participants"`
	RemainingSlots int                     `json:"remaining_slots"`
	Replayed       bool                    `json:"replayed"`
}

func toJoinView(r campaign.JoinResult) joinView {
	return joinView{
		OrderID:        r.OrderID,
		TotalPrice:     groupbuy.Money(r.TotalPrice),
		UnitPrice:      groupbuy.Money(r.UnitPrice),
		CampaignStatus: r.CampaignStatus,
		Current:        r.Current,
		RemainingSlots: r.Remaining,
		Replayed:       r.Replayed,
	}
}

type settlementView struct {
	CampaignID    string                  `json:"campaign_id"`
	Status        groupbuy.CampaignStatus `json:"status"`
	OrderIDs      []string                `json:"order_ids"`
	UnitsReleased int                     `json:"units_released"`
}

type commissionView struct {
	LeaderID string `json:"leader_id"`
	Rate     string `json:"rate"`
	Total    string `json:"total"`
	Orders   int    `json:"orders"`
}
