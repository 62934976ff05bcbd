package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/feedback"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/scorer"
	"adaptive-ensemble/internal/ml/tracker"
	"adaptive-ensemble/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type stubPredictor struct {
	req service.PredictRequest
	err error
}

func (s *stubPredictor) Predict(_ context.Context, req service.PredictRequest) (service.PredictResponse, error) {
	s.req = req
	if s.err != nil {
		return service.PredictResponse{}, s.err
	}
	return service.PredictResponse{PredictionID: "generated", Symbol: strings.ToUpper(req.Symbol)}, nil
}

type stubWeights struct{}

func (stubWeights) Summary() optimizer.Summary {
	return optimizer.Summary{Defaults: domain.DefaultComponentWeights(), History: []domain.OptimizedWeights{}}
}

type stubFeedback struct {
	appliedDates map[string]bool
	reportDate   time.Time
	report       domain.DailyReport
	applied      []domain.Lesson
	prices       []float64
	filter       optimizer.Filter
}

func (s *stubFeedback) CheckAndResolveExpired(context.Context) int { return 3 }

func (s *stubFeedback) OptimizeWeights(_ context.Context, prices []float64, f optimizer.Filter) domain.OptimizedWeights {
	s.prices, s.filter = prices, f
	return domain.OptimizedWeights{ComponentWeights: domain.DefaultComponentWeights(), SampleSize: 12}
}

func (s *stubFeedback) BuildDailyReport(_ context.Context, date time.Time) domain.DailyReport {
	s.reportDate = date
	r := s.report
	r.Date = date.Format("2006-01-02")
	return r
}

func (s *stubFeedback) ApplyLessons(_ context.Context, lessons []domain.Lesson) feedback.ApplySummary {
	s.applied = lessons
	return feedback.ApplySummary{Applied: lessons, Surfaced: []domain.Lesson{}}
}

func (s *stubFeedback) ApplyReportLessons(ctx context.Context, r domain.DailyReport) (feedback.ApplySummary, error) {
	if s.appliedDates == nil {
		s.appliedDates = map[string]bool{}
	}
	if s.appliedDates[r.Date] {
		return feedback.ApplySummary{}, domain.ErrLessonsApplied
	}
	s.appliedDates[r.Date] = true
	return s.ApplyLessons(ctx, r.Lessons), nil
}

func (s *stubFeedback) EvidenceCount() int { return 7 }

type stubPrices struct {
	symbol    string
	closes    []float64
	ingested  []*domain.Candle
	ingestErr error
}

func (s *stubPrices) RecentCloses(_ context.Context, symbol string, _ int) ([]float64, error) {
	s.symbol = symbol
	return s.closes, nil
}

func (s *stubPrices) IngestCandles(_ context.Context, candles []*domain.Candle) error {
	s.ingested = candles
	return s.ingestErr
}

type fixture struct {
	router    *gin.Engine
	predictor *stubPredictor
	ledger    *tracker.Tracker
	feedback  *stubFeedback
	prices    *stubPrices
}

func newFixture(apiKey string) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		predictor: &stubPredictor{},
		ledger:    tracker.New(),
		feedback:  &stubFeedback{report: domain.DailyReport{Status: domain.ReportOK}},
		prices:    &stubPrices{closes: []float64{1, 2, 3}},
	}
	h := New(Deps{
		Tracer:     trace.NewNoopTracerProvider().Tracer("handler-test"),
		Predictor:  f.predictor,
		Ledger:     f.ledger,
		Indicators: scorer.New(scorer.Config{}),
		Weights:    stubWeights{},
		Feedback:   f.feedback,
		Prices:     f.prices,
		Gatherer:   prometheus.NewRegistry(),
		APIKey:     apiKey,
	})
	h.now = func() time.Time { return time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC) }
	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture("")
	w := f.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["predictions"] != float64(0) || body["evidence_since_optimize"] != float64(7) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestPredictAppliesDefaults(t *testing.T) {
	f := newFixture("")
	w := f.do(http.MethodPost, "/api/predict", `{"symbol":"btc","current_price":100,"model_signals":{"lstm":0.5}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.predictor.req.Timeframe != "4h" || f.predictor.req.MarketType != "crypto" {
		t.Fatalf("defaults not applied: %+v", f.predictor.req)
	}
	if f.predictor.req.ModelSignals["lstm"] != 0.5 {
		t.Fatalf("model signals not forwarded: %+v", f.predictor.req)
	}
}

func TestPredictValidation(t *testing.T) {
	f := newFixture("")
	for _, body := range []string{
		`{"current_price":100}`,
		`{"symbol":"BTC","current_price":0}`,
		`{"symbol":"BTC","current_price":10,"market_type":"bonds"}`,
		`{"symbol":"BTC","current_price":10,"prices":[1,-2]}`,
		`not json`,
	} {
		if w := f.do(http.MethodPost, "/api/predict", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestPredictErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("record: %w", domain.ErrDuplicatePredictionID), http.StatusConflict},
		{fmt.Errorf("model %q: %w", "gru", domain.ErrUnknownSignalKey), http.StatusBadRequest},
		{domain.ErrUnknownTimeframe, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newFixture("")
		f.predictor.err = tt.err
		if w := f.do(http.MethodPost, "/api/predict", `{"symbol":"BTC","current_price":10}`); w.Code != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestWriteRoutesRequireAPIKey(t *testing.T) {
	f := newFixture("secret")
	body := `{"symbol":"BTC","current_price":10}`

	if w := f.do(http.MethodPost, "/api/predict", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/predict", body, "X-API-Key", "wrong"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/predict", body, "X-API-Key", "secret"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/weights", ""); w.Code != http.StatusOK {
		t.Fatalf("read routes stay open, got %d", w.Code)
	}
}

func TestGetPrediction(t *testing.T) {
	f := newFixture("")
	now := time.Now().UTC()
	if err := f.ledger.RecordPrediction(domain.PredictionRecord{
		ID: "p1", Symbol: "BTC", Timeframe: "1h", CurrentPrice: 100, PredictedPrice: 101,
		PredictedDirection: domain.DirectionUp, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		Status: domain.StatusPending, MarketRegime: domain.RegimeUnknown,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if w := f.do(http.MethodGet, "/api/predictions/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w := f.do(http.MethodGet, "/api/predictions/p1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec domain.PredictionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil || rec.ID != "p1" {
		t.Fatalf("unexpected record: %v %+v", err, rec)
	}

	w = f.do(http.MethodGet, "/api/metrics/accuracy?symbol=btc", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending":1`) {
		t.Fatalf("unexpected accuracy: %d %s", w.Code, w.Body.String())
	}
}

func TestDailyReport(t *testing.T) {
	f := newFixture("")
	if w := f.do(http.MethodGet, "/api/reports/daily?date=07/09/2026", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := f.do(http.MethodGet, "/api/reports/daily", "")
	if w.Code != http.StatusOK || f.feedback.reportDate.Format("2006-01-02") != "2026-07-09" {
		t.Fatalf("expected yesterday's report, got %d %v", w.Code, f.feedback.reportDate)
	}
	f.do(http.MethodGet, "/api/reports/daily?date=2026-06-01", "")
	if f.feedback.reportDate.Format("2006-01-02") != "2026-06-01" {
		t.Fatalf("unexpected date %v", f.feedback.reportDate)
	}
}

func TestApplyLessons(t *testing.T) {
	f := newFixture("")
	if w := f.do(http.MethodPost, "/api/lessons/apply", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without lessons or date, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/lessons/apply", `{"date":"yesterday"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/api/lessons/apply", `{"lessons":[{"type":"indicator","target":"macd","action":"dampen_indicator","severity":"high"}]}`)
	if w.Code != http.StatusOK || len(f.feedback.applied) != 1 || f.feedback.applied[0].Target != "macd" {
		t.Fatalf("explicit lessons not applied: %d %+v", w.Code, f.feedback.applied)
	}

	f.feedback.report.Lessons = []domain.Lesson{{Type: domain.LessonRegime, Target: "volatile", Severity: domain.SeverityMedium}}
	w = f.do(http.MethodPost, "/api/lessons/apply", `{"date":"2026-07-01"}`)
	if w.Code != http.StatusOK || f.feedback.reportDate.Format("2006-01-02") != "2026-07-01" || len(f.feedback.applied) != 1 {
		t.Fatalf("report lessons not applied: %d %+v", w.Code, f.feedback.applied)
	}

	f.feedback.applied = nil
	if w := f.do(http.MethodPost, "/api/lessons/apply", `{"date":"2026-07-01"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an already applied report, got %d", w.Code)
	}
	if f.feedback.applied != nil {
		t.Fatalf("lessons re-applied: %+v", f.feedback.applied)
	}
}

func TestOptimizeAndResolve(t *testing.T) {
	f := newFixture("")
	w := f.do(http.MethodPost, "/api/weights/optimize", `{"symbol":"eth","regime_symbol":"btc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.prices.symbol != "BTC" || len(f.feedback.prices) != 3 || f.feedback.filter.Symbol != "ETH" {
		t.Fatalf("unexpected optimize call: symbol=%s prices=%v filter=%+v", f.prices.symbol, f.feedback.prices, f.feedback.filter)
	}

	if w := f.do(http.MethodPost, "/api/weights/optimize", ""); w.Code != http.StatusOK {
		t.Fatalf("empty body should be accepted, got %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/outcomes/resolve", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"resolved":3`) {
		t.Fatalf("unexpected resolve response: %d %s", w.Code, w.Body.String())
	}
}

func TestIngestCandles(t *testing.T) {
	f := newFixture("")
	body := `{"candles":[{"symbol":"btc","interval":"5m","open_time":"2026-07-10T08:00:00Z","open":100,"high":102,"low":99,"close":101,"volume":12}]}`
	w := f.do(http.MethodPost, "/api/candles", body)
	if w.Code != http.StatusAccepted || len(f.prices.ingested) != 1 || f.prices.ingested[0].Close != 101 {
		t.Fatalf("unexpected ingest: %d %s", w.Code, w.Body.String())
	}

	bad := `{"candles":[{"symbol":"btc","open_time":"2026-07-10T08:00:00Z","open":100,"high":98,"low":99,"close":101}]}`
	if w := f.do(http.MethodPost, "/api/candles", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("high below low should be rejected, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/candles", `{"candles":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch should be rejected, got %d", w.Code)
	}

	f.prices.ingestErr = errors.New("db down")
	if w := f.do(http.MethodPost, "/api/candles", body); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestReadRoutes(t *testing.T) {
	f := newFixture("")
	for _, path := range []string{"/api/indicators", "/api/weights", "/api/candles/btc?limit=10", "/metrics"} {
		if w := f.do(http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
	if w := f.do(http.MethodGet, "/api/candles/btc?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/7", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json log line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "warn" || line["route"] != "/items/:id" || line["status"] != float64(404) {
		t.Fatalf("unexpected log line: %v", line)
	}
}
