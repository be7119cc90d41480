// Package api is the relayer-facing HTTP surface: order registration,
// secret disclosure, and order status reads. It is intentionally small;
// everything stateful goes through the ledger's guarded transitions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/storage"
)

// Server exposes the relayer endpoints over net/http.
type Server struct {
	store *storage.Store
	log   *slog.Logger
}

// NewServer builds the API surface over the ledger.
func NewServer(store *storage.Store, log *slog.Logger) *Server {
	return &Server{store: store, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders/{orderHash}", s.handleGetOrder)
	mux.HandleFunc("PUT /relayer/share-secret/{orderHash}", s.handleShareSecret)
	return mux
}

// Serve starts the API server on addr.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server", "error", err)
		}
	}()
	return srv
}

// Shutdown gracefully stops a server returned by Serve.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

type createOrderRequest struct {
	OrderHash     string     `json:"orderHash"`
	HashLock      string     `json:"hashLock"`
	Maker         string     `json:"maker"`
	Taker         string     `json:"taker"`
	SafetyDeposit string     `json:"safetyDeposit"`
	Source        legRequest `json:"source"`
	Dest          legRequest `json:"dest"`
}

type legRequest struct {
	ChainID  string `json:"chainId"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.OrderHash == "" || req.HashLock == "" || req.Source.ChainID == "" || req.Dest.ChainID == "" {
		writeError(w, http.StatusBadRequest, "orderHash, hashLock, and both legs required")
		return
	}

	o := &order.Order{
		OrderHash:     req.OrderHash,
		HashLock:      req.HashLock,
		Maker:         req.Maker,
		Taker:         req.Taker,
		SafetyDeposit: req.SafetyDeposit,
		Source: order.LegInfo{
			ChainID: req.Source.ChainID,
			Token:   req.Source.Token,
			Amount:  order.Amount{Value: req.Source.Amount, Decimals: req.Source.Decimals},
		},
		Dest: order.LegInfo{
			ChainID: req.Dest.ChainID,
			Token:   req.Dest.Token,
			Amount:  order.Amount{Value: req.Dest.Amount, Decimals: req.Dest.Decimals},
		},
	}
	if err := s.store.CreateOrder(r.Context(), o); err != nil {
		s.log.Error("create order", "order_hash", req.OrderHash, "error", err)
		writeError(w, http.StatusConflict, "order exists or ledger unavailable")
		return
	}

	s.log.Info("order registered", "order_hash", o.OrderHash)
	writeJSON(w, http.StatusCreated, orderView(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrderByHash(r.Context(), r.PathValue("orderHash"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

type shareSecretRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleShareSecret(w http.ResponseWriter, r *http.Request) {
	orderHash := r.PathValue("orderHash")

	var req shareSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret required")
		return
	}

	if _, err := s.store.GetOrderByHash(r.Context(), orderHash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}

	applied, err := s.store.ShareSecret(r.Context(), orderHash, req.Secret)
	if err != nil {
		s.log.Error("share secret", "order_hash", orderHash, "error", err)
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	if !applied {
		// The order exists but is not awaiting a secret.
		writeError(w, http.StatusConflict, "order not awaiting secret")
		return
	}

	s.log.Info("secret shared", "order_hash", orderHash)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.StatusSecretShared)})
}

type orderResponse struct {
	OrderHash    string      `json:"orderHash"`
	Status       string      `json:"status"`
	Maker        string      `json:"maker"`
	Taker        string      `json:"taker"`
	Source       legResponse `json:"source"`
	Dest         legResponse `json:"dest"`
	DstWithdrawn bool        `json:"dstWithdrawn"`
	SrcWithdrawn bool        `json:"srcWithdrawn"`
	Halted       bool        `json:"halted"`
	LastError    string      `json:"lastError,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type legResponse struct {
	ChainID       string `json:"chainId"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	Decimals      int    `json:"decimals"`
	EscrowAddress string `json:"escrowAddress,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
}

func orderView(o *order.Order) orderResponse {
	return orderResponse{
		OrderHash:    o.OrderHash,
		Status:       string(o.Status),
		Maker:        o.Maker,
		Taker:        o.Taker,
		Source:       legView(o.Source),
		Dest:         legView(o.Dest),
		DstWithdrawn: o.DstWithdrawn,
		SrcWithdrawn: o.SrcWithdrawn,
		Halted:       o.Halted,
		LastError:    o.LastError,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func legView(l order.LegInfo) legResponse {
	return legResponse{
		ChainID:       l.ChainID,
		Token:         l.Token,
		Amount:        l.Amount.Value,
		Decimals:      l.Amount.Decimals,
		EscrowAddress: l.EscrowAddress,
		TxHash:        l.TxHash,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
