//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes research runs over HTTP. Clients start a run, poll
// or stream its stages, and answer the interrupts the run raises.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/cors"

	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/log"
)

// CompletionFunc is called once per finished run.
type CompletionFunc func(query string, out *driver.Outcome, err error)

// Server serves the run API on top of a driver.Host.
type Server struct {
	host   *driver.Host
	eng    engine.Engine
	router *mux.Router
	box    *answerBox

	threadPrefix string
	onComplete   CompletionFunc

	mu   sync.RWMutex
	runs map[string]*runInfo
}

// Option configures the Server instance.
type Option func(*Server)

// WithThreadPrefix sets the prefix of generated thread IDs.
func WithThreadPrefix(prefix string) Option {
	return func(s *Server) { s.threadPrefix = prefix }
}

// WithCompletion registers fn to run after every finished run.
func WithCompletion(fn CompletionFunc) Option {
	return func(s *Server) { s.onComplete = fn }
}

// New creates a Server. eng must be the engine driven by host.
func New(host *driver.Host, eng engine.Engine, opts ...Option) *Server {
	s := &Server{
		host:         host,
		eng:          eng,
		router:       mux.NewRouter(),
		box:          newAnswerBox(),
		threadPrefix: "thread",
		runs:         make(map[string]*runInfo),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{threadId}", s.handleGetRun).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{threadId}/answer", s.handleAnswer).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{threadId}/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/threads/{threadId}/state", s.handleGetState).Methods(http.MethodGet)

	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.HandleFunc("/runs", preflight).Methods(http.MethodOptions)
	s.router.HandleFunc("/runs/{threadId}/answer", preflight).Methods(http.MethodOptions)
}

// StartRequest starts a research run.
type StartRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// AnswerRequest answers the pending interrupt of a run.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// InterruptView is the JSON form of a pending interrupt.
type InterruptView struct {
	Type         string `json:"type"`
	Question     string `json:"question,omitempty"`
	Verification string `json:"verification,omitempty"`
	NodeID       string `json:"node_id,omitempty"`
}

// RunView is the JSON form of a run.
type RunView struct {
	ThreadID     string         `json:"thread_id"`
	Query        string         `json:"query,omitempty"`
	Status       driver.Status  `json:"status"`
	Stages       []string       `json:"stages"`
	Pending      *InterruptView `json:"pending,omitempty"`
	Passes       int            `json:"passes,omitempty"`
	FinalReport  string         `json:"final_report,omitempty"`
	ResultSource string         `json:"result_source,omitempty"`
	StateKeys    []string       `json:"state_keys,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// StateView is the JSON form of a persisted thread state.
type StateView struct {
	ThreadID     string         `json:"thread_id"`
	CheckpointID string         `json:"checkpoint_id"`
	Step         int            `json:"step"`
	Next         []string       `json:"next"`
	Interrupted  bool           `json:"interrupted"`
	Values       map[string]any `json:"values"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StageEvent is one streamed stage of a run.
type StageEvent struct {
	Stage  string   `json:"stage"`
	Fields []string `json:"fields"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = fmt.Sprintf("%s-%s", s.threadPrefix, uuid.NewString())
	}

	info := newRunInfo(req.Query)
	handle, err := s.host.Submit(driver.NewQueryInput(req.Query), req.ThreadID,
		driver.WithCallPrompter(s.box.prompter(req.ThreadID)),
		driver.WithCallObserver(info.observe),
	)
	switch {
	case errors.Is(err, driver.ErrThreadActive):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, driver.ErrHostClosed), errors.Is(err, ants.ErrPoolOverload):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	info.handle = handle
	s.mu.Lock()
	s.runs[req.ThreadID] = info
	s.mu.Unlock()
	log.Infof("server: started run %s", req.ThreadID)

	go s.complete(info)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, s.view(req.ThreadID, info))
}

func (s *Server) complete(info *runInfo) {
	<-info.handle.Done()
	info.finish()
	if s.onComplete == nil {
		return
	}
	out, err := info.handle.Wait(context.Background())
	s.onComplete(info.query, out, err)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	views := make([]RunView, 0, len(ids))
	for _, id := range ids {
		if info, ok := s.run(id); ok {
			views = append(views, s.view(id, info))
		}
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	info, ok := s.run(threadID)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.view(threadID, info))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	threadID := mux.Vars(r)["threadId"]
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.box.answer(threadID, req.Answer); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	log.Infof("server: answered interrupt of %s", threadID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	st, err := s.eng.GetState(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if st == nil {
		http.Error(w, "thread not found", http.StatusNotFound)
		return
	}
	interrupted := false
	for _, task := range st.Tasks {
		if len(task.Interrupts) > 0 {
			interrupted = true
		}
	}
	s.writeJSON(w, StateView{
		ThreadID:     st.ThreadID,
		CheckpointID: st.CheckpointID,
		Step:         st.Step,
		Next:         st.Next,
		Interrupted:  interrupted,
		Values:       st.Values,
		UpdatedAt:    st.UpdatedAt,
	})
}

// handleEvents streams the stages of a run as server-sent events until the
// run finishes or the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	info, ok := s.run(threadID)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	next := 0
	for {
		events, changed, done := info.since(next)
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Errorf("server: marshal stage event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: stage\ndata: %s\n\n", data)
		}
		next += len(events)
		if len(events) > 0 {
			flusher.Flush()
		}
		if done {
			data, _ := json.Marshal(s.view(threadID, info))
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
			flusher.Flush()
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}

func (s *Server) run(threadID string) (*runInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.runs[threadID]
	return info, ok
}

func (s *Server) view(threadID string, info *runInfo) RunView {
	v := RunView{
		ThreadID: threadID,
		Query:    info.query,
		Status:   info.handle.Status(),
		Stages:   info.stages(),
	}
	if req, ok := s.box.get(threadID); ok {
		v.Pending = &InterruptView{
			Type:         req.Type(),
			Question:     req.Question(),
			Verification: req.Verification(),
			NodeID:       req.NodeID,
		}
	}
	select {
	case <-info.handle.Done():
	default:
		return v
	}
	out, err := info.handle.Wait(context.Background())
	if err != nil {
		v.Error = err.Error()
	}
	if out == nil {
		return v
	}
	v.Status = out.Status
	v.Passes = out.Passes
	v.StateKeys = out.StateKeys
	if out.Result != nil {
		v.FinalReport = out.Result.FinalReport
		v.ResultSource = string(out.Result.Source)
	} else if err == nil && out.Err() != nil {
		v.Error = out.Err().Error()
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
