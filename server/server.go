// Package server exposes the translator over HTTP: a health probe, a
// model listing, an OpenAI-compatible chat completions route, and a batch
// translate route. The routes are thin plumbing; all orchestration lives
// in the core client.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/LouisLau-art/arktrans"
)

// created is the fixed creation timestamp reported for every model in the
// OpenAI-style listing.
const created = 1705324800

// Translator is the subset of the core client the HTTP front-end uses.
type Translator interface {
	Translate(ctx context.Context, req arktrans.TranslationRequest) (arktrans.TranslationResult, error)
	AvailableModels() []arktrans.Model
}

// Server handles the HTTP API routes.
type Server struct {
	translator Translator
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server backed by the given translator.
func NewServer(translator Translator, opts ...Option) *Server {
	s := &Server{translator: translator}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RegisterRoutes attaches the API routes to the router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", s.Health).Methods("GET")
	router.HandleFunc("/v1/models", s.ListModels).Methods("GET")
	router.HandleFunc("/v1/chat/completions", s.ChatCompletions).Methods("POST")
	router.HandleFunc("/translate", s.TranslateBatch).Methods("POST")
}

// Handler returns the configured route tree, ready to serve.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)
	return router
}

// Run serves the API on addr until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Batch translations ride out the full retry pipeline per text, so
		// the write side gets a generous bound rather than none at all.
		WriteTimeout: 10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Created       int64  `json:"created"`
	OwnedBy       string `json:"owned_by"`
	Lane          string `json:"lane"`
	RPM           int    `json:"rpm"`
	MaxConcurrent int    `json:"max_concurrent"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	TargetLanguage string        `json:"target_language"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type translateRequest struct {
	SourceLang *string  `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
	TextList   []string `json:"text_list"`
}

type translateResponse struct {
	Translations []translationItem `json:"translations"`
}

type translationItem struct {
	DetectedSourceLang string `json:"detected_source_lang,omitempty"`
	Text               string `json:"text"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Health reports service liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Service: "arktrans",
		Version: arktrans.Version,
	})
}

// ListModels returns the enabled models in OpenAI list form with lane
// metadata attached.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	models := s.translator.AvailableModels()
	infos := make([]modelInfo, 0, len(models))
	for _, m := range models {
		infos = append(infos, modelInfo{
			ID:            m.ID,
			Object:        "model",
			Created:       created,
			OwnedBy:       ownerForLane(m.Lane),
			Lane:          string(m.Lane),
			RPM:           m.RPM,
			MaxConcurrent: m.MaxConcurrent,
		})
	}
	s.writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: infos})
}

// ChatCompletions translates the concatenated user messages and answers in
// OpenAI chat-completion form. The target language comes from the optional
// target_language field, defaulting to "zh".
func (s *Server) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request", "invalid_request_error")
		return
	}

	parts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		s.writeError(w, http.StatusBadRequest, "No text to translate", "invalid_request", "invalid_request_error")
		return
	}

	target := req.TargetLanguage
	if target == "" {
		target = "zh"
	}

	result, err := s.translator.Translate(r.Context(), arktrans.TranslationRequest{
		Text:       text,
		TargetLang: target,
	})
	if err != nil {
		s.logger.Warn("translation failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error(), "translation_error", "api_error")
		return
	}

	now := time.Now().Unix()
	s.writeJSON(w, http.StatusOK, chatResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", now),
		Object:  "chat.completion",
		Created: now,
		Model:   result.ModelUsed,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Translation},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     result.TokensUsed / 2,
			CompletionTokens: result.TokensUsed - result.TokensUsed/2,
			TotalTokens:      result.TokensUsed,
		},
	})
}

// TranslateBatch translates each entry of text_list independently. A text
// that fails translation comes back unchanged rather than failing the
// whole batch.
func (s *Server) TranslateBatch(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request", "invalid_request_error")
		return
	}
	if len(req.TextList) == 0 {
		s.writeError(w, http.StatusBadRequest, "text_list cannot be empty", "invalid_request", "invalid_request_error")
		return
	}

	targetLang := normalizeLang(req.TargetLang)
	sourceLang := ""
	if req.SourceLang != nil {
		sourceLang = normalizeLang(*req.SourceLang)
	}

	items := make([]translationItem, 0, len(req.TextList))
	for _, text := range req.TextList {
		result, err := s.translator.Translate(r.Context(), arktrans.TranslationRequest{
			Text:       text,
			SourceLang: sourceLang,
			TargetLang: targetLang,
		})
		if err != nil {
			s.logger.Warn("translation failed, returning original", "error", err)
			items = append(items, translationItem{Text: text})
			continue
		}
		items = append(items, translationItem{
			DetectedSourceLang: result.DetectedSourceLang,
			Text:               result.Translation,
		})
	}

	s.writeJSON(w, http.StatusOK, translateResponse{Translations: items})
}

// normalizeLang maps common language-code aliases to the forms the
// upstream API expects. Matching is case-insensitive; unknown codes pass
// through unchanged. "auto" maps to "", which the core treats as
// auto-detect.
func normalizeLang(code string) string {
	switch strings.ToLower(code) {
	case "zh-cn":
		return "zh"
	case "zh-tw":
		return "zh-Hant"
	case "auto":
		return ""
	case "no":
		return "nb"
	}
	return code
}

func ownerForLane(lane arktrans.LaneType) string {
	if lane == arktrans.LaneFast {
		return "ByteDance/DeepSeek"
	}
	return "ByteDance"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, code, errType string) {
	s.writeJSON(w, status, errorResponse{Error: errorDetail{
		Message: message,
		Code:    code,
		Type:    errType,
	}})
}
