// main.go - Enrollment service daemon.
//
// Wires the study ledger, commitment adapter, proof verifier, and enrollment
// service behind an HTTP API:
//
//	POST /v1/studies                    create a study and publish its bins
//	GET  /v1/studies/{id}               study info and bin layout
//	GET  /v1/studies/{id}/bins          aggregate per-bin counters
//	POST /v1/studies/{id}/challenge     issue a challenge and register the commitment
//	POST /v1/studies/{id}/join          submit an eligibility proof and join
//	POST /v1/studies/{id}/consent       grant or revoke consent
//	GET  /health                        component health
//	GET  /metrics                       metrics summary
//
// The ledger is persisted to a single JSON file on shutdown; commitment rows
// live in LevelDB, participations in a JSON file.

package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"enrollment/internal/bins"
	"enrollment/internal/chain"
	"enrollment/internal/circuits/eligibility"
	"enrollment/internal/commitment"
	"enrollment/internal/criteria"
	"enrollment/internal/enrollment"
	"enrollment/internal/txflow"
)

const version = "1.0.0"

type server struct {
	cfg     *Config
	logger  *Logger
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *WalletRateLimiter
	ledger  *chain.StudyLedger
	adapter *commitment.Adapter
	svc     *enrollment.Service
}

func main() {
	configPath := flag.String("config", "enrolld.json", "path to the configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString("config load failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString("config invalid: " + err.Error() + "\n")
		os.Exit(1)
	}

	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		os.Stderr.WriteString("logger setup failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Close()

	metrics := NewMetricsCollector()
	health := NewHealthChecker(version)

	// Load or create the study ledger.
	var ledger *chain.StudyLedger
	if l, err := chain.LoadLedgerFromFile(cfg.LedgerPath); err == nil {
		ledger = l
		logger.Info("ledger loaded from %s", cfg.LedgerPath)
	} else {
		ledger = chain.NewStudyLedger()
		logger.Info("starting with a fresh ledger")
	}

	commitStore, err := commitment.OpenLevelDBStore(cfg.CommitmentDBPath)
	if err != nil {
		logger.Fatal("commitment store open failed: %v", err)
	}
	defer commitStore.Close()
	partStore := enrollment.NewFileParticipationStore(cfg.ParticipationPath)

	// The trusted setup is the slow part of startup; do it once here so the
	// first submission does not pay for it.
	compileStart := time.Now()
	keys, err := eligibility.Setup()
	if err != nil {
		logger.Fatal("circuit setup failed: %v", err)
	}
	metrics.RecordCircuitCompile(time.Since(compileStart))
	logger.Info("eligibility circuit ready: %d constraints in %v", keys.CCS.GetNbConstraints(), time.Since(compileStart))

	orch := txflow.New(ledger,
		txflow.WithReceiptTimeout(time.Duration(cfg.ReceiptTimeoutSecs)*time.Second),
		txflow.WithObserver(func(ev txflow.Event) {
			metrics.RecordTransaction(ev.Op, ev.Elapsed)
			switch ev.Outcome {
			case txflow.OutcomeSuccess:
				logger.Debug("tx %s confirmed: %s", ev.Op, ev.TxHash)
			case txflow.OutcomeReverted:
				logger.Warn("tx %s reverted (%s): %s", ev.Op, ev.TxHash, ev.Reason)
			default:
				logger.Error("tx %s failed: %s", ev.Op, ev.Reason)
			}
		}),
	)

	adapter := commitment.NewAdapter(commitStore, orch, time.Duration(cfg.ChallengeTTLSeconds)*time.Second)
	svc := enrollment.NewService(ledger, orch, adapter, eligibility.NewVerifier(keys), partStore)

	health.RegisterComponent("commitment_store", func() error {
		_, err := commitStore.Get("healthcheck", 0)
		if err == commitment.ErrNotFound {
			return nil
		}
		return err
	})
	health.RegisterComponent("ledger", func() error { return nil })

	srv := &server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		health:  health,
		limiter: NewWalletRateLimiter(cfg.RateLimitTokens, cfg.RateLimitTokens, time.Duration(cfg.RateRefillSecs)*time.Second),
		ledger:  ledger,
		adapter: adapter,
		svc:     svc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/studies", srv.handleCreateStudy)
	mux.HandleFunc("GET /v1/studies/{id}", srv.handleStudyInfo)
	mux.HandleFunc("GET /v1/studies/{id}/bins", srv.handleBinCounts)
	mux.HandleFunc("POST /v1/studies/{id}/challenge", srv.handleChallenge)
	mux.HandleFunc("POST /v1/studies/{id}/join", srv.handleJoin)
	mux.HandleFunc("POST /v1/studies/{id}/consent", srv.handleConsent)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /metrics", srv.handleMetrics)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Info("enrolld %s listening on %s", version, cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown: %v", err)
	}
	if err := ledger.SaveToFile(cfg.LedgerPath); err != nil {
		logger.Error("ledger save failed: %v", err)
	} else {
		logger.Info("ledger saved to %s", cfg.LedgerPath)
	}
}

// ---- request/response types ----

type createStudyRequest struct {
	StudyID         uint64                        `json:"study_id"`
	Creator         string                        `json:"creator"`
	MaxParticipants int                           `json:"max_participants"`
	Criteria        *criteria.EligibilityCriteria `json:"criteria"`
}

type challengeRequest struct {
	Wallet     string `json:"wallet"`
	Commitment string `json:"commitment"`
	Signature  string `json:"signature"`
}

type joinRequest struct {
	Wallet        string   `json:"wallet"`
	Proof         string   `json:"proof"`
	PublicSignals []uint64 `json:"public_signals"`
	Commitment    string   `json:"commitment"`
	Challenge     string   `json:"challenge"`
}

type consentRequest struct {
	Wallet  string `json:"wallet"`
	Granted bool   `json:"granted"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---- handlers ----

func (s *server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	set, err := s.svc.DeployStudy(r.Context(), req.Creator, req.StudyID, req.Criteria, req.MaxParticipants, bins.Options{
		DefaultBinCount: s.cfg.DefaultBinCount,
		MaxBinCount:     s.cfg.MaxBinCount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SetGauge(MetricActiveStudies, 1, map[string]string{"study": strconv.FormatUint(req.StudyID, 10)})
	s.logger.Audit("study_created", map[string]interface{}{"study_id": req.StudyID, "bins": len(set.Bins)})
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"study_id":  req.StudyID,
		"bins":      set.Bins,
		"layout_id": set.LayoutID,
		"warnings":  set.Warnings,
	})
}

func (s *server) handleStudyInfo(w http.ResponseWriter, r *http.Request) {
	studyID, ok := s.studyID(w, r)
	if !ok {
		return
	}
	info, err := s.svc.Study(r.Context(), studyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleBinCounts(w http.ResponseWriter, r *http.Request) {
	studyID, ok := s.studyID(w, r)
	if !ok {
		return
	}
	counts, err := s.svc.BinCounts(r.Context(), studyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"study_id": studyID, "counts": counts})
}

func (s *server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	studyID, ok := s.studyID(w, r)
	if !ok {
		return
	}
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if !s.limiter.Allow(req.Wallet) {
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		s.writeBadRequest(w, "signature is not valid hex")
		return
	}

	row, err := s.adapter.IssueChallenge(studyID, req.Wallet, req.Commitment, sig)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.RecordChallenge(strconv.FormatUint(studyID, 10))

	// Register on the ledger unless a previous request already did.
	_, _, registered, err := s.ledger.Commitment(r.Context(), studyID, req.Wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}
	binding := ""
	txHash := ""
	if !registered {
		receipt, b, err := s.adapter.RegisterOnChain(r.Context(), studyID, req.Wallet)
		if err != nil {
			s.writeError(w, err)
			return
		}
		binding = b
		txHash = receipt.TxHash
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenge":  row.Challenge,
		"expires_at": row.ExpiresAt,
		"binding":    binding,
		"tx_hash":    txHash,
	})
}

func (s *server) handleJoin(w http.ResponseWriter, r *http.Request) {
	studyID, ok := s.studyID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if !s.limiter.Allow(req.Wallet) {
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		s.writeBadRequest(w, "proof is not valid base64")
		return
	}

	start := time.Now()
	part, err := s.svc.SubmitParticipation(r.Context(), enrollment.SubmitRequest{
		StudyID:       studyID,
		Wallet:        req.Wallet,
		Proof:         proof,
		PublicSignals: req.PublicSignals,
		Commitment:    req.Commitment,
		Challenge:     req.Challenge,
	})
	study := strconv.FormatUint(studyID, 10)
	if err != nil {
		code := enrollment.ErrorCode(err)
		s.metrics.RecordSubmission(study, code)
		s.metrics.RecordError(code)
		if code == txflow.CodeTxReverted {
			s.metrics.RecordJoinReverted(study)
		}
		s.writeError(w, err)
		return
	}
	s.metrics.RecordSubmission(study, "success")
	s.metrics.RecordProofVerification(time.Since(start))
	s.logger.Audit("participant_joined", map[string]interface{}{
		"study_id": studyID, "wallet": req.Wallet, "tx_hash": part.TxHash, "bins": part.BinIDs,
	})
	s.writeJSON(w, http.StatusOK, part)
}

func (s *server) handleConsent(w http.ResponseWriter, r *http.Request) {
	studyID, ok := s.studyID(w, r)
	if !ok {
		return
	}
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if !s.limiter.Allow(req.Wallet) {
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
		return
	}

	var txHash string
	var err error
	if req.Granted {
		txHash, err = s.svc.GrantConsent(r.Context(), studyID, req.Wallet)
	} else {
		txHash, err = s.svc.RevokeConsent(r.Context(), studyID, req.Wallet)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.RecordConsentChange(strconv.FormatUint(studyID, 10), req.Granted)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"study_id": studyID,
		"granted":  req.Granted,
		"tx_hash":  txHash,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, CreateHealthResponse(health))
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.GetMetricsSummary())
}

// ---- helpers ----

func (s *server) studyID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "study id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed: %v", err)
	}
}

func (s *server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: msg})
}

// writeError maps an enrollment error to its HTTP status. Validation and
// precondition failures are client errors, reverts and infrastructure
// failures are server-side.
func (s *server) writeError(w http.ResponseWriter, err error) {
	code := enrollment.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case enrollment.CodeInvalidWallet, enrollment.CodeInvalidSignature,
		enrollment.CodeCriteriaFormat, enrollment.CodeCommitmentMismatch,
		enrollment.CodeChallengeMismatch, enrollment.CodeChallengeExpired,
		enrollment.CodeBindingMismatch, enrollment.CodeProofInvalid,
		enrollment.CodeNotEligible, enrollment.CodeConfigurationError,
		enrollment.CodeCommitmentUnregistered, enrollment.CodeNotParticipant,
		enrollment.CodeStudyNotRecruiting, txflow.CodeSimulationFailed:
		status = http.StatusBadRequest
	case enrollment.CodeProofAlreadySubmitted, enrollment.CodeAlreadyJoined, enrollment.CodeStudyFull:
		status = http.StatusConflict
	case enrollment.CodeStudyNotFound, enrollment.CodeCommitmentNotFound:
		status = http.StatusNotFound
	case txflow.CodeInfraFailure:
		status = http.StatusServiceUnavailable
	case txflow.CodeTxReverted:
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		s.logger.Error("request failed [%s]: %v", code, err)
	} else {
		s.logger.Debug("request rejected [%s]: %v", code, err)
	}
	s.writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
