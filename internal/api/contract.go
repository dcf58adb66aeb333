package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

//go:embed openapi.yaml
var contractYAML []byte

// Contract is the REST contract the router serves and, optionally, enforces.
type Contract struct {
	doc    *openapi3.T
	router routers.Router
}

func LoadContract(ctx context.Context) (*Contract, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi contract: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &Contract{doc: doc, router: router}, nil
}

// ServeJSON publishes the contract at /api/openapi.json.
func (c *Contract) ServeJSON(w http.ResponseWriter, r *http.Request) {
	body, err := c.doc.MarshalJSON()
	if err != nil {
		handlers.WriteProblem(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Validate rejects requests that violate the contract with 400. Security is
// left to the auth middleware; requests for paths outside the contract pass
// through untouched.
func (c *Contract) Validate(next http.Handler) http.Handler {
	opts := &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := c.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
			Options:    opts,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			handlers.WriteProblem(w, r, fmt.Errorf("%w: %s", services.ErrInvalidInput, contractError(err)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// contractError trims kin-openapi's verbose messages down to the reason.
func contractError(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			return fmt.Sprintf("request body: %s", schemaErr.Reason)
		}
		if reqErr.Reason != "" {
			return reqErr.Reason
		}
	}
	return err.Error()
}
