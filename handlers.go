package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newHandler(reg *registry, ticker *mTicker, origin string) http.Handler {
	r := mux.NewRouter()

	r.Handle("/health", healthHandler{}).Methods("GET")
	r.Handle("/register", registerHandler{reg: reg}).Methods("POST")
	r.Handle("/register/{id}", unregisterHandler{reg: reg}).Methods("DELETE")
	r.Handle("/publish", publishHandler{reg: reg}).Methods("POST")
	r.Handle("/ws/{id}", newWsHandler(reg, ticker, origin)).Methods("GET")

	return loggingMiddleware(r)
}

type registerRequest struct {
	UserID int `json:"userId"`
}

type registerResponse struct {
	URL string `json:"url"`
}

type publishRequest struct {
	Topic   string `json:"topic"`
	UserID  *int   `json:"userId,omitempty"`
	Message string `json:"message"`
}

type healthHandler struct {
}

func (healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]string{
			"message": "Route Working Properly",
		},
	})
}

type registerHandler struct {
	reg *registry
}

func (h registerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequestError(w, "Unable to parse register body.")
		return
	}
	id := newClientID()
	if err := h.reg.register(id, req.UserID); err != nil {
		// A 128-bit random collision; fatal to this request only.
		http.Error(w, "Error: unable to register client.", http.StatusInternalServerError)
		return
	}
	zap.L().Info("client registered",
		zap.Int("user_id", req.UserID), zap.String("client_id", id))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registerResponse{
		URL: fmt.Sprintf("ws://%s/ws/%s", r.Host, id),
	})
}

// newClientID returns 128 random bits as 32 hex characters.
func newClientID() string {
	return fmt.Sprintf("%x", [16]byte(uuid.New()))
}

type unregisterHandler struct {
	reg *registry
}

func (h unregisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.reg.remove(id); !ok {
		http.Error(w, fmt.Sprintf("Client not found with id %s", id), http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, "Client removed with id %s", id)
}

type publishHandler struct {
	reg *registry
}

func (h publishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequestError(w, "Unable to parse publish body.")
		return
	}
	n := h.reg.broadcast(req.Topic, req.UserID, []byte(req.Message))
	zap.L().Debug("published event",
		zap.String("topic", req.Topic), zap.Int("recipients", n))
	w.Write([]byte("Published event"))
}

type wsHandler struct {
	reg      *registry
	ticker   *mTicker
	upgrader *websocket.Upgrader
}

func newWsHandler(reg *registry, ticker *mTicker, origin string) wsHandler {
	return wsHandler{
		reg:    reg,
		ticker: ticker,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origin),
		},
	}
}

func (h wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.reg.contains(id) {
		http.Error(w, fmt.Sprintf("Client not found with id %s", id), http.StatusNotFound)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	newConnection(ws, h.reg, h.ticker, id).run()
}

// checkOrigin accepts every origin when the configured origin is empty,
// otherwise requires an exact scheme://host[:port] match. Requests
// without an Origin header (non-browser clients) are always accepted.
func checkOrigin(origin string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		if origin == "" || o == "" {
			return true
		}
		return strings.EqualFold(o, origin)
	}
}

func sendBadRequestError(w http.ResponseWriter, str string) {
	http.Error(w,
		fmt.Sprintf("Error: bad request. %s", str),
		http.StatusBadRequest)
}
