package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/campaign"
	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"github.com/ariefcatur/go-groupbuy/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type Handler struct {
	Engine *campaign.Engine
	Cache  *redisx.Cache // optional
	Log    *zap.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.createCampaign)
		r.Get("/{id}", h.getCampaign)
		r.Post("/{id}/start", h.startCampaign)
		r.Post("/{id}/join", h.joinCampaign)
		r.Post("/{id}/cancel", h.cancelCampaign)
		r.Get("/{id}/orders", h.campaignOrders)
	})
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/pay", h.payOrder)
		r.Post("/ready", h.readyOrder)
		r.Post("/pickup", h.pickupOrder)
	})
	r.Get("/leaders/{id}/commission", h.leaderCommission)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// decode accepts an empty body as the zero request.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func userID(r *http.Request) string { return strings.TrimSpace(r.Header.Get(HeaderUserID)) }

type createCampaignReq struct {
	ProductID string    `json:"product_id"`
	Target    int       `json:"target_participants"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	leader := userID(r)
	if leader == "" {
		badRequest(w, "missing "+HeaderUserID)
		return
	}
	var req createCampaignReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	c, err := h.Engine.Create(r.Context(), campaign.CreateInput{
		LeaderID:  leader,
		ProductID: req.ProductID,
		Target:    req.Target,
		Start:     req.StartTime,
		End:       req.EndTime,
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignView(c))
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	key := fmt.Sprintf(redisx.KeyCampaignView, id)
	if b, ok, err := h.Cache.Get(ctx, key); err == nil && ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
		return
	}

	// 2) store
	c, err := h.Engine.Campaign(ctx, id)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	b, _ := json.Marshal(toCampaignView(c))
	if err := h.Cache.Set(ctx, key, b, redisx.TTLCampaignView); err != nil {
		h.log().Warn("campaign cache set failed", zap.String("campaign_id", id), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) invalidate(ctx context.Context, campaignID string) {
	if err := h.Cache.Del(ctx, fmt.Sprintf(redisx.KeyCampaignView, campaignID)); err != nil {
		h.log().Warn("campaign cache invalidate failed", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

func (h *Handler) startCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Engine.Start(r.Context(), id, userID(r))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toCampaignView(c))
}

type joinReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) joinCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := userID(r)
	if user == "" {
		badRequest(w, "missing "+HeaderUserID)
		return
	}
	var req joinReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	idem := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	// Fast-path replay from Redis; the store stays the source of truth.
	var idemKey string
	if idem != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemJoin, id, user, idem)
		if b, ok, err := h.Cache.Get(r.Context(), idemKey); err == nil && ok {
			var v joinView
			if json.Unmarshal(b, &v) == nil {
				v.Replayed = true
				writeJSON(w, http.StatusOK, v)
				return
			}
		}
	}

	res, err := h.Engine.Join(r.Context(), campaign.JoinInput{
		CampaignID: id,
		UserID:     user,
		Quantity:   req.Quantity,
		ExternalID: idem,
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	v := toJoinView(res)
	if idemKey != "" {
		b, _ := json.Marshal(v)
		if err := h.Cache.Set(r.Context(), idemKey, b, redisx.TTLIdempotency); err != nil {
			h.log().Warn("idempotency cache set failed", zap.String("campaign_id", id), zap.Error(err))
		}
	}
	if !res.Replayed {
		h.invalidate(r.Context(), id)
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, v)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Reason == "" {
		req.Reason = "canceled by admin"
	}
	s, err := h.Engine.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, settlementView{
		CampaignID:    s.CampaignID,
		Status:        s.Status,
		OrderIDs:      s.OrderIDs,
		UnitsReleased: s.UnitsReleased,
	})
}

func (h *Handler) campaignOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Engine.CampaignOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	h.orderResult(w, o, err)
}

func (h *Handler) readyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.MarkReadyForPickup(r.Context(), chi.URLParam(r, "id"), userID(r))
	h.orderResult(w, o, err)
}

func (h *Handler) pickupOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.ConfirmPickup(r.Context(), chi.URLParam(r, "id"), userID(r))
	h.orderResult(w, o, err)
}

func (h *Handler) orderResult(w http.ResponseWriter, o groupbuy.Order, err error) {
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) leaderCommission(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Commission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, commissionView{
		LeaderID: s.LeaderID,
		Rate:     s.Rate.String(),
		Total:    groupbuy.Money(s.Total),
		Orders:   s.Orders,
	})
}

type createProductReq struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Stock            int             `json:"stock"`
	Price            decimal.Decimal `json:"price"`
	WarningThreshold int             `json:"warning_threshold"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	p, err := h.Engine.CreateProduct(r.Context(), groupbuy.Product{
		ID:               req.ID,
		Name:             req.Name,
		Stock:            req.Stock,
		Price:            req.Price,
		WarningThreshold: req.WarningThreshold,
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductView(p))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(p))
}
