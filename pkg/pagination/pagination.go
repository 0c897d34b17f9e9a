package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// ClampPageSize returns DefaultPageSize for non-positive values and caps
// the result at MaxPageSize.
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// SearchURL builds the first page URL of a FHIR search:
// {base}/{resourceType}?_count={count}. Trailing slashes on base are dropped.
func SearchURL(baseURL, resourceType string, count int) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/%s?_count=%d", base, url.PathEscape(resourceType), count)
}

// PageSizeFromContext reads the page size from _count, falling back to
// count and then to def.
func PageSizeFromContext(c echo.Context, def int) int {
	n, _ := strconv.Atoi(c.QueryParam("_count"))
	if n <= 0 {
		n, _ = strconv.Atoi(c.QueryParam("count"))
	}
	if n <= 0 {
		n = def
	}
	return ClampPageSize(n)
}
