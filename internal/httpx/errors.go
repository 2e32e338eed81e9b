package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	"go.uber.org/zap"
)

type errorBody struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	RemainingSlots *int   `json:"remaining_slots,omitempty"`
	Available      *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: string(groupbuy.KindInvalid)})
}

// writeError maps a core error to a status by kind; the message is never inspected.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	body := errorBody{Error: err.Error(), Code: string(groupbuy.KindOf(err))}
	status := http.StatusInternalServerError

	switch groupbuy.KindOf(err) {
	case groupbuy.KindNotFound:
		status = http.StatusNotFound
	case groupbuy.KindInvalid:
		status = http.StatusBadRequest
	case groupbuy.KindCampaignClosed:
		status = http.StatusConflict
	case groupbuy.KindCapacityExceeded:
		status = http.StatusConflict
		if ge, ok := groupbuy.AsError(err); ok {
			body.RemainingSlots = &ge.RemainingSlots
		}
	case groupbuy.KindInsufficientStock:
		status = http.StatusConflict
		if ge, ok := groupbuy.AsError(err); ok {
			body.Available = &ge.Available
		}
	case groupbuy.KindBusy:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		log.Error("request failed", zap.Error(err))
		body = errorBody{Error: "internal error", Code: string(groupbuy.KindInternal)}
	}
	writeJSON(w, status, body)
}
