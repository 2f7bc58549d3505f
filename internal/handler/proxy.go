package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"moneywise-bff-go/internal/config"
	"moneywise-bff-go/internal/model"
	"moneywise-bff-go/internal/service"
)

// ProxyHandler relays API requests to the MoneyWise backend.
type ProxyHandler struct {
	forwarder  *service.Forwarder
	logger     *slog.Logger
	bankingURL *url.URL
}

// NewProxyHandler creates a ProxyHandler. When cfg names a separate banking
// upstream, banking routes relay there instead of the default backend.
func NewProxyHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) (*ProxyHandler, error) {
	var bankingURL *url.URL
	if cfg.Backend.BankingBaseURL != "" {
		u, err := url.Parse(cfg.Backend.BankingBaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse backend banking_base_url: %w", err)
		}
		bankingURL = u
	}

	return &ProxyHandler{
		forwarder:  f,
		logger:     logger.With("component", "proxy_handler"),
		bankingURL: bankingURL,
	}, nil
}

// Handle relays the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	return h.relay(c)
}

// HandleBanking relays banking-link requests, which may target a dedicated
// upstream.
func (h *ProxyHandler) HandleBanking(c echo.Context) error {
	if h.bankingURL == nil {
		return h.relay(c)
	}
	return h.relay(c, service.WithBackendURL(h.bankingURL))
}

func (h *ProxyHandler) relay(c echo.Context, opts ...service.Option) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.forwarder.Forward(pr, opts...)
	if err != nil {
		return h.errorEnvelope(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Backend headers replace any defaults middleware already set on the
	// response; Add preserves duplicate values and their order, Set-Cookie
	// included.
	respHeader := c.Response().Header()
	for key, vals := range resp.Header {
		respHeader.Del(key)
		for _, v := range vals {
			respHeader.Add(key, v)
		}
	}

	// 204 responses carry headers only; skip the body copy even if the
	// backend sent stray bytes.
	if resp.StatusCode == http.StatusNoContent {
		c.Response().WriteHeader(resp.StatusCode)
		return nil
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the backend body directly to the browser. If io.Copy fails
	// mid-stream the status line is already on the wire, so the browser sees
	// a truncated response with the original status. Log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) errorEnvelope(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	return relayErrorResponse(c, err)
}

// relayErrorResponse writes the JSON envelope for a failed backend call:
// 504 for timeouts, 502 for everything else.
func relayErrorResponse(c echo.Context, err error) error {
	if errors.Is(err, service.ErrBackendTimeout) {
		return c.JSON(http.StatusGatewayTimeout, model.ErrorEnvelope{
			Error:   "Gateway Timeout",
			Message: "The backend did not respond within the configured timeout",
		})
	}

	return c.JSON(http.StatusBadGateway, model.ErrorEnvelope{
		Error:   "Bad Gateway",
		Message: "Backend service unavailable",
	})
}
