// Package server exposes the observation ingestion endpoint, read-only
// JSON APIs, and a token-protected review dashboard for pending proposals.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/coordinator"
	"github.com/tuneloop/tuneloop/internal/experiment"
	"github.com/tuneloop/tuneloop/internal/store"
)

const shutdownGrace = 5 * time.Second

type Server struct {
	store     store.Store
	engine    *experiment.Engine
	coord     *coordinator.Coordinator
	log       *zap.Logger
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
}

func New(s store.Store, eng *experiment.Engine, coord *coordinator.Coordinator, log *zap.Logger, port int, tokenFile string) *Server {
	srv := &Server{
		store:     s,
		engine:    eng,
		coord:     coord,
		log:       log,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.routes()
	return srv
}

func (s *Server) routes() {
	// Public: the beacon and read-only APIs.
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/o", s.handleObservation)
	s.router.HandleFunc("/api/experiments", s.handleExperimentsAPI)

	// Token-gated review surface.
	s.router.Handle("/review", s.authMiddleware(http.HandlerFunc(s.handleReview)))
	s.router.Handle("/review/api/proposals", s.authMiddleware(http.HandlerFunc(s.handleProposalsAPI)))
	s.router.Handle("/review/approve", s.authMiddleware(http.HandlerFunc(s.handleApprove)))
	s.router.Handle("/review/reject", s.authMiddleware(http.HandlerFunc(s.handleReject)))
}

// Start serves until ctx is cancelled, then drains in-flight requests.
// The review token is written next to the database so `tuneloop otp` can
// recover it for a running server.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", zap.Error(err))
		}
	}

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println()
	fmt.Printf("tuneloop running on http://localhost:%d\n", s.port)
	fmt.Printf("Review dashboard: http://localhost:%d/review?token=%s\n", s.port, s.token)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func generateToken() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// Degrade to a time-derived token rather than refuse to start.
		return strconv.FormatInt(time.Now().UnixNano()&0xffffffff, 16)
	}
	return hex.EncodeToString(buf)
}
