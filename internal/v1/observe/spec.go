package observe

import (
	"context"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
)

// adminAPIDoc describes the admin surface's own request shapes (no request
// body on any route today, but POST /performance/cleanup/force is the one
// route most likely to grow one, so requests are validated against this
// document rather than left unchecked) — grounded on
// ManuGH-xg2g's contract-test use of kin-openapi/openapi3filter, applied
// here at request time instead of in a test harness.
const adminAPIDoc = `
openapi: 3.0.3
info:
  title: roomfabric admin API
  version: "1"
paths:
  /admin/health:
    get:
      responses:
        "200":
          description: ok
  /admin/performance/:
    get:
      responses:
        "200":
          description: ok
  /admin/performance/cleanup/force:
    post:
      responses:
        "200":
          description: ok
`

// NewValidator loads and validates the embedded admin OpenAPI document,
// returning a kin-openapi router used to reject requests that don't match
// any declared route/method before they reach a handler.
func NewValidator() (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(adminAPIDoc))
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	return legacy.NewRouter(doc)
}

// ValidateRequest is gin middleware enforcing that every admin request
// matches a route in the embedded OpenAPI document.
func ValidateRequest(router routers.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no matching admin route"})
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
