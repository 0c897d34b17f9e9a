// Package server exposes the ingestion runs over HTTP so an orchestrator
// can trigger them and read back the result counts.
package server

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/theranostics/internal/platform/auth"
	"github.com/ehr/theranostics/internal/platform/middleware"
)

const defaultBodyLimit = "1M"

type Options struct {
	Logger zerolog.Logger
	// DevAuth admits unauthenticated requests. Ignored when SigningKey is set.
	DevAuth    bool
	SigningKey []byte
	Issuer     string
	Audience   string
	BodyLimit  string
}

// New builds the echo instance with global middleware and routes.
func New(h *Handler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	bodyLimit := opts.BodyLimit
	if bodyLimit == "" {
		bodyLimit = defaultBodyLimit
	}

	// Global middleware
	e.Use(middleware.Recovery(opts.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit(bodyLimit))

	api := e.Group("/api/v1")
	if len(opts.SigningKey) == 0 && opts.DevAuth {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:        opts.Issuer,
			Audience:      opts.Audience,
			SigningKey:    opts.SigningKey,
			RequiredScope: auth.ScopeIngest,
			Skipper:       auth.AuthSkipper,
		}))
	}

	h.RegisterRoutes(e, api)
	return e
}
