package groupbuy

import "strings"

const (
	TopicCampaign  = "groupbuy.campaign"
	TopicOrder     = "groupbuy.order"
	TopicInventory = "groupbuy.inventory"
)

// Topics lists every topic the notifier subscribes to.
var Topics = []string{TopicCampaign, TopicOrder, TopicInventory}

func TopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "campaign."):
		return TopicCampaign
	case strings.HasPrefix(eventType, "order."):
		return TopicOrder
	default:
		return TopicInventory
	}
}

// Partition key = campaign_id / order_id, supaya semua event satu entitas tetap berurutan.
func PartitionKey(id string) []byte { return []byte(id) }
