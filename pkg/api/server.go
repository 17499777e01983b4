package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/app/core"
	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/engine"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/metrics"
)

const (
	defaultDepth = 20
	maxDepth     = 500
	defaultLimit = 100
	maxLimit     = 1000
)

// Server handles REST API and WebSocket connections. It forwards the
// caller-supplied user id; authentication happens in front of it.
type Server struct {
	engine   *engine.Engine
	ledger   *ledger.Ledger
	markets  *market.MarketRegistry
	recorder *audit.Recorder
	metrics  *metrics.Metrics

	cfg    params.API
	router *mux.Router
	hub    *Hub // WebSocket hub
	log    *zap.Logger
}

// NewServer creates a new API server
func NewServer(app *core.App, cfg params.API, hub *Hub, log *zap.Logger) *Server {
	log = log.Named("api")
	s := &Server{
		engine:   app.Engine,
		ledger:   app.Ledger,
		markets:  app.Markets,
		recorder: app.Recorder,
		metrics:  app.Metrics,
		cfg:      cfg,
		router:   mux.NewRouter(),
		hub:      hub,
		log:      log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{id}/positions", s.handleGetPositions).Methods("GET")

	// User endpoints
	api.HandleFunc("/users/{id}/orders", s.handleGetUserOrders).Methods("GET")
	api.HandleFunc("/users/{id}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/users/{id}/ledger", s.handleGetLedger).Methods("GET")

	// Payment rail notifications
	api.HandleFunc("/users/{id}/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/users/{id}/withdrawals", s.handleWithdraw).Methods("POST")

	// Orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/events", s.handleGetOrderEvents).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Hub returns the WebSocket hub, the real-time trade sink
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. The
// hub runs separately via Hub().Run.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api_server_starting", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		s.log.Info("api_server_stopped")
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.markets.ListMarkets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}

	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	depth, ok := queryInt(w, r, "depth", defaultDepth, maxDepth)
	if !ok {
		return
	}

	snap, err := s.engine.Snapshot(m.ID, depth)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	respondJSON(w, OrderbookSnapshot{
		MarketID:  snap.MarketID,
		Yes:       priceLevels(snap.Yes),
		No:        priceLevels(snap.No),
		Timestamp: snap.Timestamp.UnixMilli(),
	})
}

// handleGetTrades returns the newest trades, or with ?after=<seq> every
// trade after that sequence oldest first for catching up on missed events
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}

	var trades []order.Trade
	var err error
	if after := r.URL.Query().Get("after"); after != "" {
		seq, perr := strconv.ParseUint(after, 10, 64)
		if perr != nil {
			respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), "after must be a sequence number", nil)
			return
		}
		trades, err = s.recorder.TradesSince(m.ID, seq)
	} else {
		limit, ok := queryInt(w, r, "limit", defaultLimit, maxLimit)
		if !ok {
			return
		}
		trades, err = s.recorder.Trades(m.ID, limit)
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	positions, err := s.recorder.Positions(m.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	orders, err := s.engine.UserOrders(user)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	s.respondBalance(w, r, user)
}

func (s *Server) respondBalance(w http.ResponseWriter, r *http.Request, user string) {
	b, err := s.ledger.AvailableBalance(user)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, BalanceInfo{UserID: user, Available: b, Display: major(b)})
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultLimit, maxLimit)
	if !ok {
		return
	}
	entries, err := s.ledger.Entries(user, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	response := make([]LedgerEntryInfo, len(entries))
	for i, e := range entries {
		response[i] = ledgerEntryInfo(e)
	}
	respondJSON(w, response)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ledger.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.ledger.Withdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, apply func(string, int64, string) (ledger.Entry, error)) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reference == "" {
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), "missing reference", nil)
		return
	}
	if _, err := apply(user, req.Amount, req.Reference); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondBalance(w, r, user)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	side, err := order.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), err.Error(), nil)
		return
	}
	price := req.Price
	if req.Probability != "" {
		if price, err = parseProbability(req.Probability); err != nil {
			respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), err.Error(), nil)
			return
		}
	}

	res, err := s.engine.Place(r.Context(), engine.PlaceRequest{
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Side:     side,
		Price:    price,
		Amount:   req.Amount,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	trades := make([]TradeInfo, len(res.Trades))
	for i, t := range res.Trades {
		trades[i] = tradeInfo(t)
	}
	respondJSON(w, PlaceOrderResponse{Order: orderInfo(res.Order), Trades: trades})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Order(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrderEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.Order(id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	evs, err := s.recorder.OrderEvents(id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, evs)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	o, err := s.engine.Cancel(r.Context(), req.UserID, mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":    "ok",
		"markets":   s.markets.Count(),
		"wsClients": s.hub.Clients(),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) lookupMarket(w http.ResponseWriter, r *http.Request) (market.Market, bool) {
	id := mux.Vars(r)["id"]
	m, err := s.markets.GetMarket(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "MARKET_NOT_FOUND",
			fmt.Sprintf("market %s does not exist", id), map[string]any{"marketId": id})
		return market.Market{}, false
	}
	return m, true
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if !engine.ValidUserID(id) {
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), fmt.Sprintf("invalid user id %q", id), nil)
		return "", false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def, limit int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), key+" must be a positive integer", nil)
		return 0, false
	}
	return min(n, limit), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// parseProbability converts "0.65" into 6500 basis points. Finer than a
// basis point is rejected rather than rounded.
func parseProbability(v string) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("invalid probability %q", v)
	}
	bp := d.Shift(4)
	if !bp.Equal(bp.Truncate(0)) {
		return 0, fmt.Errorf("probability %s finer than a basis point", v)
	}
	return bp.IntPart(), nil
}

// httpStatus maps an error kind onto a response status
func httpStatus(k engine.Kind) int {
	switch k {
	case engine.KindValidation, engine.KindInsufficientFunds, engine.KindMarketClosed:
		return http.StatusBadRequest
	case engine.KindOrderNotFound:
		return http.StatusNotFound
	case engine.KindPermissionDenied:
		return http.StatusForbidden
	case engine.KindInvalidOrderState:
		return http.StatusConflict
	case engine.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondErr maps engine and ledger errors onto coded responses. Internal
// failures are logged and their text is not exposed.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var ee *engine.Error
	var ife *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &ee):
		status := httpStatus(ee.Kind)
		msg := ee.Error()
		if status == http.StatusInternalServerError {
			s.log.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
			msg = "internal error"
		}
		respondError(w, status, ee.Kind.Code(), msg, ee.Details)
	case errors.As(err, &ife):
		respondError(w, http.StatusBadRequest, engine.KindInsufficientFunds.Code(), ife.Error(),
			map[string]any{"available": ife.Available, "required": ife.Required})
	case errors.Is(err, ledger.ErrInvalidEntry):
		respondError(w, http.StatusBadRequest, engine.KindValidation.Code(), err.Error(), nil)
	default:
		s.log.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, engine.KindInternal.Code(), "internal error", nil)
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Detail: message,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every API call; mutations at info so the log doubles as
// a request journal
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// The upgrade needs the raw writer (http.Hijacker)
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if r.Method == http.MethodPost {
			s.log.Info("api_request", fields...)
		} else {
			s.log.Debug("api_request", fields...)
		}
	})
}
