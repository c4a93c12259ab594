package gobtcmini

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"time"
)

const maxRequestBody = 16 << 10

var serverLogger = NewLogger("server")

const indexHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>BTC Mini</title></head>
<body>
<h1>BTC Mini</h1>
<p>Bitcoin price, fees and address watchlist.</p>
<ul>
<li><a href="/api/price">/api/price</a></li>
<li><a href="/api/fees">/api/fees</a></li>
<li><a href="/api/watchlist">/api/watchlist</a></li>
</ul>
</body>
</html>
`

type addAddressRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

type eventRequest struct {
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
}

type eventResponse struct {
	OK bool  `json:"ok"`
	ID int64 `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer constructs the HTTP handler serving the BTC Mini API.
func NewServer(app *App) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{app: app}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/price", h.price)
	mux.HandleFunc("GET /api/fees", h.fees)
	mux.HandleFunc("GET /api/watchlist", h.listWatchlist)
	mux.HandleFunc("POST /api/watchlist", h.addAddress)
	mux.HandleFunc("DELETE /api/watchlist/{address}", h.removeAddress)
	mux.HandleFunc("POST /api/watchlist/{address}/refresh", h.refreshAddress)
	mux.HandleFunc("GET /api/address/{address}", h.addressBalance)
	mux.HandleFunc("GET /api/quantum_exposure/{address}", h.quantumExposure)
	mux.HandleFunc("GET /api/ratelimit", h.rateLimit)
	mux.HandleFunc("POST /api/event", h.recordEvent)
	mux.HandleFunc("GET /api/metrics/events_by_type", h.eventsByType)
	mux.Handle("GET /ws", app.Hub)
	mux.Handle("GET /debug/vars", expvar.Handler())

	return withResponseMetrics(mux)
}

type handlers struct {
	app *App
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"time":      h.app.Clock.Now().UTC().Format(time.RFC3339),
		"watchlist": len(h.app.Engine.Entries()),
		"clients":   h.app.Hub.ClientCount(),
	})
}

func (h *handlers) price(w http.ResponseWriter, r *http.Request) {
	data, err := h.app.RefreshPrice(r.Context(), forceParam(r))
	if err != nil {
		if cached := h.app.Price.Cached(); cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if data == nil {
		data = h.app.Price.Cached()
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *handlers) fees(w http.ResponseWriter, r *http.Request) {
	data, err := h.app.RefreshFees(r.Context(), forceParam(r))
	if err != nil {
		if cached := h.app.Fees.Cached(); cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if data == nil {
		data = h.app.Fees.Cached()
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *handlers) listWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Engine.Entries())
}

func (h *handlers) addAddress(w http.ResponseWriter, r *http.Request) {
	var req addAddressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	entry, err := h.app.Engine.AddAddress(r.Context(), req.Address, req.Label)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAddress):
			writeError(w, http.StatusConflict, err)
		case errors.As(err, new(*ValidationError)):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handlers) removeAddress(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Engine.RemoveAddress(r.Context(), r.PathValue("address")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) refreshAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := h.app.Engine.RefreshAddress(r.Context(), address); err != nil {
		writeEngineError(w, err)
		return
	}
	entry, _ := h.app.Engine.Entry(address)
	writeJSON(w, http.StatusAccepted, entry)
}

func (h *handlers) addressBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !h.app.Validate(address).Valid {
		writeError(w, http.StatusBadRequest, ErrInvalidAddress)
		return
	}
	result := h.app.Balance.Resolve(r.Context(), address, forceParam(r))
	status := http.StatusOK
	switch result.ErrorType {
	case BalanceErrorAddressNotRecognized:
		status = http.StatusNotFound
	case BalanceErrorAPIUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (h *handlers) quantumExposure(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !h.app.Validate(address).Valid {
		writeError(w, http.StatusBadRequest, ErrInvalidAddress)
		return
	}
	result, err := h.app.Exposure.Resolve(r.Context(), address)
	if errors.Is(err, ErrTimeout) {
		writeJSON(w, http.StatusGatewayTimeout, result)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) rateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Gate.State())
}

func (h *handlers) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	event, err := h.app.RecordEvent(r.Context(), Event{Type: req.EventType, UserID: req.UserID, Payload: req.Payload})
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{OK: true, ID: event.ID})
}

func (h *handlers) eventsByType(w http.ResponseWriter, r *http.Request) {
	counts, err := h.app.EventCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func forceParam(r *http.Request) bool {
	switch r.URL.Query().Get("force") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrAddressNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		serverLogger.Printf("encode response failed status=%d error=%v", status, err)
	}
}
