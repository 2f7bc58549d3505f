package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"moneywise-bff-go/internal/config"
	"moneywise-bff-go/internal/model"
	"moneywise-bff-go/internal/service"
)

// dashboardWidgets are the backend resources aggregated into one response.
var dashboardWidgets = []struct {
	key      string
	path     string
	rawQuery string
}{
	{key: "accounts", path: "/api/accounts"},
	{key: "recentTransactions", path: "/api/transactions", rawQuery: "limit=20"},
	{key: "budgets", path: "/api/budgets"},
}

// DashboardHandler aggregates several backend resources into a single
// response so the dashboard renders with one round trip instead of three.
type DashboardHandler struct {
	forwarder     *service.Forwarder
	logger        *slog.Logger
	widgetTimeout time.Duration
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		forwarder:     f,
		logger:        logger.With("component", "dashboard_handler"),
		widgetTimeout: cfg.Dashboard.WidgetTimeout(),
	}
}

// widgetResult is one widget's relayed status and body.
type widgetResult struct {
	status int
	body   []byte
}

// Handle fans out to the widget endpoints concurrently and merges their JSON
// bodies under one key per widget. The browser's Cookie and CSRF headers ride
// along on every widget call, so backend auth works exactly as on direct
// relays. A widget answering non-200 (an expired session, say) short-circuits
// the aggregate: its status and body are relayed as-is. Transport failures
// map to the usual relay envelopes.
func (h *DashboardHandler) Handle(c echo.Context) error {
	req := c.Request()

	results := make([]widgetResult, len(dashboardWidgets))

	g, ctx := errgroup.WithContext(req.Context())
	for i, w := range dashboardWidgets {
		g.Go(func() error {
			pr := &model.ProxyRequest{
				Ctx:      ctx,
				Method:   http.MethodGet,
				Path:     w.path,
				RawQuery: w.rawQuery,
				Header:   req.Header,
			}

			resp, err := h.forwarder.Forward(pr, service.WithTimeout(h.widgetTimeout))
			if err != nil {
				return fmt.Errorf("widget %s: %w", w.key, err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("widget %s: %w: read body: %v", w.key, service.ErrBackendUnavailable, err)
			}

			results[i] = widgetResult{status: resp.StatusCode, body: body}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		h.logger.Error("dashboard fan-out failed",
			"err", err,
			"path", req.URL.Path,
		)
		return relayErrorResponse(c, err)
	}

	// Widgets are checked in declaration order so the relayed status is
	// deterministic when several fail at once.
	payload := make(map[string]json.RawMessage, len(dashboardWidgets))
	for i, w := range dashboardWidgets {
		r := results[i]
		if r.status != http.StatusOK {
			h.logger.Warn("dashboard widget returned non-200",
				"widget", w.key,
				"status", r.status,
			)
			return c.Blob(r.status, echo.MIMEApplicationJSON, r.body)
		}
		if !json.Valid(r.body) {
			h.logger.Error("dashboard widget returned invalid JSON",
				"widget", w.key,
			)
			return relayErrorResponse(c, service.ErrBackendUnavailable)
		}
		payload[w.key] = r.body
	}

	return c.JSON(http.StatusOK, payload)
}
