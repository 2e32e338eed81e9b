package groupbuy

type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "pending"
	CampaignActive     CampaignStatus = "active"
	CampaignSuccessful CampaignStatus = "successful"
	CampaignFailed     CampaignStatus = "failed"
	CampaignCanceled   CampaignStatus = "canceled"
)

var campaignNext = map[CampaignStatus]map[CampaignStatus]bool{
	CampaignPending:    {CampaignActive: true, CampaignSuccessful: true, CampaignFailed: true, CampaignCanceled: true},
	CampaignActive:     {CampaignSuccessful: true, CampaignFailed: true, CampaignCanceled: true},
	CampaignSuccessful: {},
	CampaignFailed:     {},
	CampaignCanceled:   {},
}

// Open reports whether the campaign still accepts joins.
func (s CampaignStatus) Open() bool {
	return s == CampaignPending || s == CampaignActive
}

func (s CampaignStatus) Terminal() bool {
	return s == CampaignSuccessful || s == CampaignFailed || s == CampaignCanceled
}

func CanTransitionCampaign(from, to CampaignStatus) bool {
	return campaignNext[from][to]
}

type OrderStatus string

const (
	OrderAwaitingGroup  OrderStatus = "awaiting_group_success"
	OrderSuccessful     OrderStatus = "successful"
	OrderReadyForPickup OrderStatus = "ready_for_pickup"
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderCompleted      OrderStatus = "completed"
	OrderCanceled       OrderStatus = "canceled"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderAwaitingGroup:  {OrderSuccessful: true, OrderCanceled: true},
	OrderSuccessful:     {OrderReadyForPickup: true, OrderPendingPayment: true, OrderCompleted: true},
	OrderReadyForPickup: {OrderPendingPayment: true, OrderCompleted: true},
	OrderPendingPayment: {OrderCompleted: true},
	OrderCompleted:      {},
	OrderCanceled:       {},
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return orderNext[from][to]
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)
