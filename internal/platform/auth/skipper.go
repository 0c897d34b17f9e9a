package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Orchestrators probe these without
// credentials.
var publicPaths = map[string]bool{
	"/health": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
