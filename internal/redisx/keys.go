package redisx

import "time"

const (
	// Idempotent join: idem:join:{campaign_id}:{user_id}:{idempotency_key} -> order_id
	KeyIdemJoin = "idem:join:%s:%s:%s"

	// Campaign view cache: campaign:{campaign_id} -> JSON view
	KeyCampaignView = "campaign:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLCampaignView = 30 * time.Second
	TTLDedup        = 48 * time.Hour
)
