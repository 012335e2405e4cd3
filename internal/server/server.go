// Package server exposes the pipeline engine over HTTP. The REST surface is
// deliberately thin: every handler validates input, calls one engine
// operation, and maps the typed rejection to a status code.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"scribeworks/internal/ratelimit"
	"scribeworks/internal/servicetoken"
	"scribeworks/internal/usertoken"
	"scribeworks/internal/util"
	"scribeworks/pkg/allocator"
	"scribeworks/pkg/asr"
	"scribeworks/pkg/bonus"
	"scribeworks/pkg/delivery"
	"scribeworks/pkg/domain"
	"scribeworks/pkg/ledger"
	"scribeworks/pkg/orders"
	"scribeworks/pkg/progress"
	"scribeworks/pkg/queue"
	"scribeworks/pkg/storage"
	"scribeworks/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store        store.Store
	Objects      storage.ObjectStore
	Ledger       *ledger.Ledger
	Allocator    *allocator.Allocator
	Machine      *orders.Machine
	Orchestrator *delivery.Orchestrator
	Screener     *queue.Screener
	Screening    *queue.RedisScreeningQueue
	Bonuses      *bonus.Runner
	Ingest       *asr.Ingestor

	AssignLimiter *ratelimit.FixedWindowLimiter

	// UserTokens, when set, requires customer routes to carry a valid user
	// access token. Nil means the upstream gateway already authenticated.
	UserTokens *usertoken.Verifier

	// TrustedProxies gates forwarded-header client IPs in request logs.
	TrustedProxies *util.TrustedProxies

	InternalJWTKeyID            string
	InternalJWTPublicKeyPath    string
	InternalJWTVerifyPublicKeys map[string]string
}

// Server routes pipeline requests.
type Server struct {
	cfg          Config
	internalAuth *servicetoken.Verifier
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:      strings.TrimSpace(cfg.InternalJWTPublicKeyPath),
		VerifyPublicKeyMap: cfg.InternalJWTVerifyPublicKeys,
		DefaultKeyID:       cfg.InternalJWTKeyID,
		Audience:           "pipeline",
		AllowedIssuers:     []string{"ops-console", "cron"},
		Leeway:             servicetoken.DefaultLeeway,
	})
	if err != nil {
		return nil, err
	}
	s.internalAuth = verifier
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("pipeline", s.cfg.TrustedProxies, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// worker surface
	s.mux.HandleFunc("/v1/jobs/available", s.handleAvailable)
	s.mux.HandleFunc("/v1/jobs/assign", s.handleAssign)
	s.mux.HandleFunc("/v1/jobs/accept", s.handleAccept)
	s.mux.HandleFunc("/v1/jobs/reject", s.handleReject)
	s.mux.HandleFunc("/v1/jobs/submit", s.handleSubmit)
	s.mux.HandleFunc("/v1/jobs/flag-difficulty", s.handleFlagDifficulty)

	// customer surface
	s.mux.HandleFunc("/v1/orders", s.handleCreateOrder)
	s.mux.HandleFunc("/v1/orders/", s.handleOrderByID)
	s.mux.HandleFunc("/v1/files/", s.handleFile)

	// operations + cron surface, service-token guarded
	s.mux.Handle("/internal/orders/", s.withInternal(s.handleInternalOrder))
	s.mux.Handle("/internal/asr/request", s.withInternal(s.handleASRRequest))
	s.mux.Handle("/internal/asr/complete", s.withInternal(s.handleASRComplete))
	s.mux.Handle("/internal/cron/bonus", s.withInternal(s.handleBonusCron))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalAuth == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalAuth.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// customerSubject resolves the acting customer from the bearer token. With no
// verifier configured the service trusts upstream authentication and the
// subject is empty.
func (s *Server) customerSubject(r *http.Request) (string, bool) {
	if s.cfg.UserTokens == nil {
		return "", true
	}
	token, ok := servicetoken.BearerToken(r)
	if !ok {
		return "", false
	}
	subject, err := s.cfg.UserTokens.VerifySubject(token)
	if err != nil {
		return "", false
	}
	return subject, true
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	workerID := strings.TrimSpace(r.URL.Query().Get("workerId"))
	stage := domain.JobStage(strings.TrimSpace(r.URL.Query().Get("stage")))
	if workerID == "" || stage == "" {
		writeError(w, http.StatusBadRequest, "workerId and stage are required")
		return
	}
	available, err := s.cfg.Allocator.AvailableOrders(workerID, stage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": available})
}

type assignRequest struct {
	OrderID               string `json:"orderId"`
	WorkerID              string `json:"workerId"`
	Stage                 string `json:"stage"`
	Mode                  string `json:"mode"`
	IndependentContractor bool   `json:"independentContractor"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.WorkerID == "" || req.Stage == "" {
		writeError(w, http.StatusBadRequest, "orderId, workerId and stage are required")
		return
	}
	if s.cfg.AssignLimiter != nil && !s.cfg.AssignLimiter.Allow(req.WorkerID) {
		writeError(w, http.StatusTooManyRequests, "too many claim attempts, slow down")
		return
	}
	mode := domain.AssignMode(req.Mode)
	if mode == "" {
		mode = domain.AssignAuto
	}
	err := s.cfg.Allocator.Assign(req.OrderID, req.WorkerID, domain.JobStage(req.Stage), mode, req.IndependentContractor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

type jobActionRequest struct {
	OrderID  string `json:"orderId"`
	WorkerID string `json:"workerId"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req jobActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Machine.Accept(req.OrderID, req.WorkerID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req jobActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Machine.Reject(req.OrderID, req.WorkerID, req.Comment); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type submitRequest struct {
	OrderID    string `json:"orderId"`
	WorkerID   string `json:"workerId"`
	Transcript string `json:"transcript"`
}

// handleSubmit stores the transcript revision, records the ledger row, and
// only then transitions the assignment. A crash between the ledger write and
// the transition leaves a re-submittable claim, never a dangling status.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.WorkerID == "" || req.Transcript == "" {
		writeError(w, http.StatusBadRequest, "orderId, workerId and transcript are required")
		return
	}
	claim, ok, err := s.cfg.Store.ActiveAssignmentForWorker(req.WorkerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok || claim.OrderID != req.OrderID {
		writeError(w, http.StatusNotFound, "no active assignment for this order")
		return
	}
	order, ok, err := s.cfg.Store.GetOrder(req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	ctx := r.Context()
	rev, err := storage.PutBytes(ctx, s.cfg.Objects, ledger.TranscriptKey(order.FileID), []byte(req.Transcript))
	if err != nil {
		writeDomainError(w, domain.Externalf("object store", err))
		return
	}
	if _, err := s.cfg.Ledger.Record(order.FileID, ledger.SubmissionTag(claim.Stage), rev, req.WorkerID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.cfg.Machine.Submit(req.OrderID, req.WorkerID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted", "revisionId": rev})
}

type difficultyRequest struct {
	OrderID string `json:"orderId"`
	Issues  int    `json:"issues"`
}

func (s *Server) handleFlagDifficulty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req difficultyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Issues <= 0 {
		writeError(w, http.StatusBadRequest, "issues must be > 0")
		return
	}
	if err := s.cfg.Machine.FlagHighDifficulty(req.OrderID, req.Issues); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flagged"})
}

type createOrderRequest struct {
	FileID        string  `json:"fileId"`
	OwnerUserID   string  `json:"ownerUserId"`
	OrderType     string  `json:"orderType"`
	Priority      int     `json:"priority"`
	RateBonus     float64 `json:"rateBonus"`
	TotalPaid     float64 `json:"totalPaid"`
	InvoiceID     string  `json:"invoiceId"`
	TransactionID string  `json:"transactionId"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	subject, ok := s.customerSubject(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if subject != "" {
		req.OwnerUserID = subject
	}
	if req.FileID == "" || req.OwnerUserID == "" {
		writeError(w, http.StatusBadRequest, "fileId and ownerUserId are required")
		return
	}
	orderType := domain.OrderType(req.OrderType)
	if orderType == "" {
		orderType = domain.TypeTranscription
	}
	now := time.Now().UTC()
	order := domain.Order{
		ID:            util.NewID(),
		FileID:        req.FileID,
		OwnerUserID:   req.OwnerUserID,
		OrderType:     orderType,
		Status:        domain.OrderProcessing,
		Priority:      req.Priority,
		RateBonus:     req.RateBonus,
		TotalPaid:     req.TotalPaid,
		InvoiceID:     req.InvoiceID,
		TransactionID: req.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.cfg.Store.CreateOrder(order); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	subject, ok := s.customerSubject(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if subject != "" {
		order, found, err := s.cfg.Store.GetOrder(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		if order.OwnerUserID != subject {
			writeError(w, http.StatusForbidden, "not your order")
			return
		}
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getOrder(w, id)
	case action == "cancel" && r.Method == http.MethodPost:
		if err := s.cfg.Machine.Cancel(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case action == "refund-quote" && r.Method == http.MethodGet:
		percent, amount, err := s.cfg.Orchestrator.RefundQuote(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progressPercent": percent, "refundAmount": amount})
	case action == "refund" && r.Method == http.MethodPost:
		var req struct {
			ToCredits bool `json:"toCredits"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		amount, err := s.cfg.Orchestrator.Refund(id, req.ToCredits)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "refunded", "refundAmount": amount})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getOrder(w http.ResponseWriter, id string) {
	order, ok, err := s.cfg.Store.GetOrder(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	resp := map[string]any{"order": order}
	if percent, err := progress.Percent(order); err == nil {
		resp["progressPercent"] = percent
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFile serves GET /v1/files/{id}/transcript: the customer-visible
// transcript, edit overlay first.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	fileID, action, _ := strings.Cut(rest, "/")
	if fileID == "" || action != "transcript" {
		http.NotFound(w, r)
		return
	}
	rev, err := s.cfg.Ledger.ResolveCurrentTranscript(fileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data, err := s.cfg.Objects.Get(r.Context(), ledger.TranscriptKey(fileID), rev)
	if err != nil {
		writeDomainError(w, domain.Externalf("object store", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type reassignRequest struct {
	Stage          string  `json:"stage"`
	WorkerID       string  `json:"workerId"`
	RetainEarnings bool    `json:"retainEarnings"`
	Earnings       float64 `json:"earnings"`
	Comment        string  `json:"comment,omitempty"`
}

type earningsRequest struct {
	Earnings float64 `json:"earnings"`
}

func (s *Server) handleInternalOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/internal/orders/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "accept":
		var req earningsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.cfg.Orchestrator.AcceptSubmission(id, req.Earnings); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case "predeliver":
		if err := s.cfg.Orchestrator.Predeliver(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "pre-delivered"})
	case "deliver":
		var req earningsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.cfg.Orchestrator.Deliver(r.Context(), id, req.Earnings); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
	case "reassign":
		var req reassignRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var err error
		switch domain.JobStage(req.Stage) {
		case domain.StageFinalize:
			err = s.cfg.Allocator.ReassignFinalizer(id, req.WorkerID, req.RetainEarnings, req.Earnings, req.Comment)
		case domain.StageQC:
			err = s.cfg.Allocator.ReassignQC(id, req.WorkerID, req.Comment)
		default:
			writeError(w, http.StatusBadRequest, "stage must be QC or FINALIZE")
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reassigned"})
	case "approve-screening":
		if err := s.cfg.Screener.ApproveScreening(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleASRRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		OrderID    string `json:"orderId"`
		AudioURL   string `json:"audioUrl"`
		WebhookURL string `json:"webhookUrl"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.cfg.Ingest == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription provider not configured")
		return
	}
	if req.OrderID == "" || req.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "orderId and audioUrl are required")
		return
	}
	id, err := s.cfg.Ingest.Request(r.Context(), req.OrderID, req.AudioURL, req.WebhookURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"transcriptId": id})
}

// handleASRComplete is the provider webhook: record the transcript (when a
// provider id is given), then hand the order to the screening queue.
func (s *Server) handleASRComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		OrderID      string `json:"orderId"`
		TranscriptID string `json:"transcriptId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.cfg.Screening == nil {
		writeError(w, http.StatusServiceUnavailable, "screening queue not configured")
		return
	}
	if s.cfg.Ingest != nil && req.TranscriptID != "" {
		if err := s.cfg.Ingest.Complete(r.Context(), req.OrderID, req.TranscriptID); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	job, err := s.cfg.Screening.Enqueue(r.Context(), req.OrderID)
	if err != nil {
		writeDomainError(w, domain.Externalf("screening queue", err))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type bonusCronRequest struct {
	Type  string `json:"type"` // daily | monthly
	Stage string `json:"stage"`
	Date  string `json:"date"` // 2026-08-30
}

func (s *Server) handleBonusCron(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req bonusCronRequest
	if !decodeBody(w, r, &req) {
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	stage := domain.JobStage(req.Stage)
	var awarded []domain.Bonus
	switch req.Type {
	case "daily":
		awarded, err = s.cfg.Bonuses.RunDaily(day, stage)
	case "monthly":
		awarded, err = s.cfg.Bonuses.RunMonthly(day, stage)
	default:
		writeError(w, http.StatusBadRequest, "type must be daily or monthly")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"awarded": len(awarded), "bonuses": awarded})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeDomainError maps the engine's typed rejections onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrIneligible):
		writeError(w, http.StatusForbidden, err.Error())
	case domain.IsExternal(err):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
