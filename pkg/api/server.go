// Package api serves the gateway's websocket endpoint and its small REST
// surface for operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexgate/pkg/ids"
	"github.com/uhyunpark/dexgate/pkg/indexer"
	"github.com/uhyunpark/dexgate/pkg/metrics"
	"github.com/uhyunpark/dexgate/pkg/storage"
	"github.com/uhyunpark/dexgate/pkg/subscription"
)

const (
	defaultRecent = 20
	maxRecent     = 500
)

// Dispatcher handles one inbound client message.
type Dispatcher interface {
	Dispatch(owner subscription.Replier, id string, raw []byte)
}

// Subscriptions is the subscription table as seen by the transport.
type Subscriptions interface {
	ReleaseOwner(owner subscription.Replier)
	Len() int
}

// TradeCursors reports the trade poll state of a token.
type TradeCursors interface {
	Polling(token string) bool
	Cursor(token string) (uint64, bool)
}

// ChainInfo reports the resolved chain identity.
type ChainInfo interface {
	Info() (indexer.ChainInfo, bool)
}

// Journal looks up recorded transaction outcomes.
type Journal interface {
	Get(id string) (storage.TxRecord, bool, error)
	Recent(limit int) ([]storage.TxRecord, error)
}

// Deps are the collaborators of a Server. Trades, Chain and Journal are
// optional; their endpoints degrade when unset.
type Deps struct {
	Dispatcher    Dispatcher
	Subscriptions Subscriptions
	IDs           *ids.Issuer
	Trades        TradeCursors
	Chain         ChainInfo
	Journal       Journal

	Tokens []string
	// RateLimit caps inbound messages per second per connection (0 = off).
	RateLimit float64
	// Signer is the address transactions are signed with.
	Signer         string
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	router     *mux.Router
	hub        *Hub
	subs       Subscriptions
	dispatcher Dispatcher
	ids        *ids.Issuer
	trades     TradeCursors
	chain      ChainInfo
	journal    Journal

	tokens    []string
	rateLimit float64
	signer    string
	origins   []string

	sugar      *zap.SugaredLogger
	stats      *metrics.Registry
	httpServer *http.Server
}

func NewServer(deps Deps, sugar *zap.SugaredLogger, stats *metrics.Registry) *Server {
	issuer := deps.IDs
	if issuer == nil {
		issuer = ids.NewIssuer()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router:     mux.NewRouter(),
		hub:        NewHub(sugar, stats),
		subs:       deps.Subscriptions,
		dispatcher: deps.Dispatcher,
		ids:        issuer,
		trades:     deps.Trades,
		chain:      deps.Chain,
		journal:    deps.Journal,
		tokens:     deps.Tokens,
		rateLimit:  deps.RateLimit,
		signer:     deps.Signer,
		origins:    origins,
		sugar:      sugar,
		stats:      stats,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.stats.Handler()).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start runs the websocket hub and serves addr until Shutdown or ctx ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.sugar.Infow("api_server_starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Websocket connections are closed when the hub's context ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	response := make([]TokenInfo, len(s.tokens))
	for i, token := range s.tokens {
		info := TokenInfo{Symbol: token, Asset: strings.ToLower(token)}
		if s.trades != nil {
			info.Polling = s.trades.Polling(token)
			if cursor, ok := s.trades.Cursor(token); ok {
				info.Cursor = &cursor
			}
		}
		response[i] = info
	}

	respondJSON(w, response)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	response := GatewayStatus{
		Signer:  s.signer,
		Clients: s.hub.Len(),
	}
	if s.subs != nil {
		response.Subscriptions = s.subs.Len()
	}
	if s.chain != nil {
		if info, ok := s.chain.Info(); ok {
			response.ChainKnown = true
			response.ChainID = info.ChainID
			response.GenesisHash = info.GenesisHash
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "journal disabled", "")
		return
	}

	limit := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = min(n, maxRecent)
	}

	records, err := s.journal.Recent(limit)
	if err != nil {
		s.sugar.Errorw("journal_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", "")
		return
	}
	if records == nil {
		records = []storage.TxRecord{}
	}

	respondJSON(w, records)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "journal disabled", "")
		return
	}

	id := mux.Vars(r)["id"]
	record, ok, err := s.journal.Get(id)
	if err != nil {
		s.sugar.Errorw("journal_read_failed", "id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", "")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "transaction not found", id)
		return
	}

	respondJSON(w, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
