package handler

import (
	"net/http"
	"time"

	"shellcache/internal/domain"
	"shellcache/internal/usecase"
)

// ShellHandler はページからのリクエストをインターセプトするHTTPハンドラー
type ShellHandler struct {
	shellUseCase *usecase.ShellUseCase
	logger       domain.Logger
}

// NewShellHandler は新しいShellHandlerインスタンスを作成
func NewShellHandler(
	shellUseCase *usecase.ShellUseCase, logger domain.Logger,
) *ShellHandler {
	return &ShellHandler{
		shellUseCase: shellUseCase,
		logger:       logger,
	}
}

func (h *ShellHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &domain.ShellRequest{
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
		Headers:   r.Header,
		CreatedAt: time.Now(),
	}

	resp, err := h.shellUseCase.Intercept(r.Context(), req)
	if err != nil {
		h.logger.Error("Intercept failed", err, map[string]interface{}{
			"method": r.Method,
			"url":    r.URL.String(),
		})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	for key, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	switch {
	case resp.Bypassed:
		w.Header().Set("X-Shell-Cache", "bypass")
	case resp.FromCache:
		w.Header().Set("X-Shell-Cache", "hit")
	default:
		w.Header().Set("X-Shell-Cache", "miss")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("Failed to write response body", map[string]interface{}{
			"url":   r.URL.String(),
			"error": err.Error(),
		})
	}
}
