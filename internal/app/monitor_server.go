package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ccxt-broker/internal/broker"
	"ccxt-broker/internal/monitor"
)

// maxRequestBody 限制下单请求体大小。
const maxRequestBody = 1 << 16

type apiServer struct {
	orch   *orchestrator
	logger *zap.Logger
}

func newHandler(orch *orchestrator, logger *zap.Logger) http.Handler {
	api := &apiServer{orch: orch, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", api.listEvents)
	mux.HandleFunc("GET /orders", api.listOrders)
	mux.HandleFunc("POST /orders", api.submitOrder)
	mux.HandleFunc("DELETE /orders/{id}", api.cancelOrder)
	mux.HandleFunc("GET /account", api.account)
	mux.Handle("GET /metrics", orch.metrics.Handler())
	return mux
}

func startMonitorServer(ctx context.Context, orch *orchestrator, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(orch, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func (s *apiServer) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.orch.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *apiServer) listOrders(w http.ResponseWriter, r *http.Request) {
	open := s.orch.broker.Snapshot()
	out := make([]monitor.OrderPayload, 0, len(open))
	for _, order := range open {
		out = append(out, monitor.NewOrderPayload(order))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("解析请求失败: %w", err))
		return
	}

	order, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, monitor.NewOrderPayload(order))
}

func (s *apiServer) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, monitor.NewOrderPayload(order))
}

func (s *apiServer) account(w http.ResponseWriter, r *http.Request) {
	account, err := s.orch.Account(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrOrderNotFound), errors.Is(err, broker.ErrRemoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
