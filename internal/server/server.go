package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BenjaminSRussell/siteaudit/internal/config"
	"github.com/BenjaminSRussell/siteaudit/internal/crawler"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/storage"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

const maxRequestBytes = 1 << 20

// Server exposes the crawl engine over HTTP with server-sent events.
type Server struct {
	cfg    config.Config
	logger logrus.FieldLogger
	store  *storage.SQLiteStorage
	mux    *http.ServeMux
}

// New wires handlers onto an HTTP mux. store may be nil.
func New(cfg config.Config, logger logrus.FieldLogger, store *storage.SQLiteStorage) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/scrape", s.handleScrape)
	s.mux.HandleFunc("/api/check-list", s.handleCheckList)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Server.Addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down api server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var target types.CrawlTarget
	if err := decodeBody(w, r, &target); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(target.BaseURL) == "" {
		writeError(w, http.StatusBadRequest, errors.New("URL is required"))
		return
	}
	if _, err := crawler.ValidateTarget(target.BaseURL); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := crawler.New(s.cfg, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stream, ok := newEventStream(w, r)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	crawlCtx := r.Context()
	if !s.cfg.Server.CancelOnDisconnect {
		crawlCtx = context.WithoutCancel(crawlCtx)
	}

	sinks := []progress.Sink{stream}
	var crawlID string
	if s.store != nil {
		if crawlID, err = s.store.BeginCrawl(target); err != nil {
			s.logger.WithError(err).Warn("not persisting crawl")
		} else {
			sinks = append(sinks, s.store.Sink(crawlID))
		}
	}

	out := make(chan progress.Message, s.cfg.Crawl.Concurrency)
	reporter := progress.NewReporter(s.logger, s.cfg.Crawl.BatchSize, sinks...)

	var (
		wg       sync.WaitGroup
		results  *types.Results
		crawlErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results, crawlErr = c.Crawl(crawlCtx, target, out)
	}()

	stats := reporter.Run(crawlCtx, out)
	wg.Wait()

	log := s.logger.WithFields(logrus.Fields{
		"url":          target.BaseURL,
		"results":      stats.Results,
		"dead_sinks":   stats.DeadSinks,
		"disconnected": r.Context().Err() != nil,
	})
	if crawlErr != nil {
		log.WithError(crawlErr).Error("crawl failed")
		return
	}
	if crawlID != "" {
		if err := s.store.FinishCrawl(crawlID, results); err != nil {
			log.WithError(err).Warn("failed to record crawl totals")
		}
	}
	log.Info("scrape request finished")
}

type checkListRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleCheckList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req checkListRequest
	if err := decodeBody(w, r, &req); err != nil || req.URLs == nil {
		writeError(w, http.StatusBadRequest, errors.New("URLs array is required"))
		return
	}

	c, err := crawler.New(s.cfg, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stream, ok := newEventStream(w, r)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	out := make(chan progress.Message, s.cfg.Server.CheckListConcurrency)
	reporter := progress.NewReporter(s.logger, s.cfg.Crawl.BatchSize, stream)

	done := make(chan *types.Results, 1)
	go func() {
		done <- c.CheckURLs(r.Context(), req.URLs, s.cfg.Server.CheckListConcurrency, out)
	}()

	stats := reporter.Run(r.Context(), out)
	results := <-done

	s.logger.WithFields(logrus.Fields{
		"urls":      len(req.URLs),
		"processed": results.Processed,
		"errors":    results.Errors,
		"delivered": stats.Results,
	}).Info("check-list request finished")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	// an empty body is treated like an empty object
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid json payload: %v", err)
	}
	// reaching EOF lets the server notice a client that hangs up mid-stream
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.ErrorEvent(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}
