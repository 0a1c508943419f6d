// Package api - статусный HTTP сервер сканера.
//
// Только чтение: здоровье процесса, статистика matcher'а и таблицы цен,
// список арбитражных символов, Prometheus метрики.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"arbscanner/internal/matcher"
	"arbscanner/internal/scanner"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server отдаёт статус сканера по HTTP
type Server struct {
	matcher *matcher.TickerMatcher
	scanner *scanner.Scanner
	log     *zap.Logger
}

// NewServer создаёт статусный сервер
func NewServer(m *matcher.TickerMatcher, s *scanner.Scanner, log *zap.Logger) *Server {
	return &Server{matcher: m, scanner: s, log: log}
}

// Router настраивает маршруты
//
// Структура:
//
//	/healthz            - liveness
//	/metrics            - Prometheus
//	/api/v1/stats       - счётчики matcher'а и таблицы цен
//	/api/v1/symbols     - арбитражные символы (?min_exchanges=N)
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)

	return s.recovery(s.logging(r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	TotalSymbols   int `json:"total_symbols"`
	Arbitrageable  int `json:"arbitrageable"`
	Exchanges      int `json:"exchanges"`
	TrackedSymbols int `json:"tracked_symbols"`
	TotalPriceRows int `json:"total_price_rows"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalSymbols, arbitrageable, exchanges := s.matcher.Stats()
	trackedSymbols, totalRows := s.scanner.Stats()

	writeJSON(w, http.StatusOK, statsResponse{
		TotalSymbols:   totalSymbols,
		Arbitrageable:  arbitrageable,
		Exchanges:      exchanges,
		TrackedSymbols: trackedSymbols,
		TotalPriceRows: totalRows,
	})
}

type symbolInfo struct {
	Symbol    string   `json:"symbol"`
	Exchanges []string `json:"exchanges"`
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	minExchanges := 2
	if raw := r.URL.Query().Get("min_exchanges"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			http.Error(w, "invalid min_exchanges", http.StatusBadRequest)
			return
		}
		minExchanges = v
	}

	out := make([]symbolInfo, 0)
	for _, sym := range s.matcher.ArbitrageableSymbols() {
		exchanges := s.matcher.ExchangesForSymbol(sym)
		if len(exchanges) < minExchanges {
			continue
		}
		out = append(out, symbolInfo{Symbol: sym, Exchanges: exchanges})
	}

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============ Middleware ============

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logging пишет строку на каждый запрос
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// recovery перехватывает панику в handler'е и отвечает 500,
// не роняя процесс
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("Panic in HTTP handler", zap.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
