package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every JSON response is written in.
type APIResponse struct {
	Data  any               `json:"data,omitempty"`
	Error *APIErrorResponse `json:"error,omitempty"`
	Meta  map[string]any    `json:"meta"`
}

// APIErrorResponse represents the error portion of an API response.
type APIErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HandlerFunc is a handler that receives a bound, validated request and
// returns the payload or an API error.
type HandlerFunc[T any, R any] func(request T, ctx HandlerContext) (R, IAPIError)

// HandlerContext gives handlers access to the echo context when needed.
type HandlerContext struct {
	Echo echo.Context
}

// Router is satisfied by *echo.Echo and *echo.Group.
type Router interface {
	Add(method, path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) *echo.Route
}

// Route describes a registered handler.
type Route struct {
	Method string
	Path   string
}

// HandlerRegistry wraps typed handlers and remembers what was registered.
type HandlerRegistry struct {
	details bool
	routes  []Route
}

// NewHandlerRegistry returns a registry. Error details are rendered only
// when details is true.
func NewHandlerRegistry(details bool) *HandlerRegistry {
	return &HandlerRegistry{details: details}
}

// Routes returns every route registered so far.
func (hr *HandlerRegistry) Routes() []Route {
	return append([]Route(nil), hr.routes...)
}

// Paths returns the paths registered for method.
func (hr *HandlerRegistry) Paths(method string) []string {
	var out []string
	for _, r := range hr.routes {
		if r.Method == method {
			out = append(out, r.Path)
		}
	}
	return out
}

// RegisterHandler binds handler to method and path on r.
func RegisterHandler[T any, R any](hr *HandlerRegistry, r Router, method, path string, handler HandlerFunc[T, R]) {
	route := r.Add(method, path, WrapHandler(handler, hr.details))
	hr.routes = append(hr.routes, Route{Method: method, Path: route.Path})
}

// GET registers a GET handler and the matching HEAD handler.
func GET[T any, R any](hr *HandlerRegistry, r Router, path string, handler HandlerFunc[T, R]) {
	RegisterHandler(hr, r, http.MethodGet, path, handler)
	r.Add(http.MethodHead, path, WrapHandler(handler, hr.details))
}

// POST registers a POST handler.
func POST[T any, R any](hr *HandlerRegistry, r Router, path string, handler HandlerFunc[T, R]) {
	RegisterHandler(hr, r, http.MethodPost, path, handler)
}

// PUT registers a PUT handler.
func PUT[T any, R any](hr *HandlerRegistry, r Router, path string, handler HandlerFunc[T, R]) {
	RegisterHandler(hr, r, http.MethodPut, path, handler)
}

// DELETE registers a DELETE handler.
func DELETE[T any, R any](hr *HandlerRegistry, r Router, path string, handler HandlerFunc[T, R]) {
	RegisterHandler(hr, r, http.MethodDelete, path, handler)
}

// WrapHandler adapts a typed handler to echo. It binds the request,
// validates it and writes the envelope.
func WrapHandler[T any, R any](handler HandlerFunc[T, R], details bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		var request T

		if err := bindRequest(c, &request); err != nil {
			return formatErrorResponse(c, NewBadRequestError("Invalid request data").WithDetails("error", err.Error()), details)
		}

		if err := c.Validate(&request); err != nil {
			vErr := NewBadRequestError("Request validation failed")
			var ve *ValidationError
			if errors.As(err, &ve) {
				_ = vErr.WithDetails("validationErrors", ve.Errors)
			} else {
				_ = vErr.WithDetails("error", err.Error())
			}
			return formatErrorResponse(c, vErr, details)
		}

		response, apiErr := handler(request, HandlerContext{Echo: c})
		if apiErr != nil {
			return formatErrorResponse(c, apiErr, details)
		}

		if rl, ok := any(response).(ResultLike); ok {
			status, data := rl.ResultMeta()
			return formatSuccessResponse(c, status, data)
		}
		return formatSuccessResponse(c, http.StatusOK, response)
	}
}

// bindRequest fills target from the JSON body and from fields tagged
// `param:"..."` or `query:"..."`.
func bindRequest(c echo.Context, target any) error {
	if ct := c.Request().Header.Get(echo.HeaderContentType); ct != "" && c.Request().ContentLength != 0 {
		if mt, _, _ := mime.ParseMediaType(ct); mt == echo.MIMEApplicationJSON || strings.HasSuffix(mt, "+json") {
			if err := (&echo.DefaultBinder{}).BindBody(c, target); err != nil {
				return fmt.Errorf("failed to bind JSON body: %w", err)
			}
		}
	}

	v := reflect.ValueOf(target).Elem()
	if v.Kind() != reflect.Struct {
		return nil
	}
	return bindFields(c, v)
}

// bindFields applies param and query tags, descending into embedded structs.
func bindFields(c echo.Context, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if field.Anonymous && fv.Kind() == reflect.Struct {
			if err := bindFields(c, fv); err != nil {
				return err
			}
			continue
		}
		if !fv.CanSet() {
			continue
		}
		if name := field.Tag.Get("param"); name != "" {
			if value := c.Param(name); value != "" {
				if err := setFieldValue(fv, value); err != nil {
					return fmt.Errorf("failed to set path param %s: %w", name, err)
				}
			}
		}
		if name := field.Tag.Get("query"); name != "" {
			if value := c.QueryParam(name); value != "" {
				if err := setFieldValue(fv, value); err != nil {
					return fmt.Errorf("failed to set query param %s: %w", name, err)
				}
			}
		}
	}
	return nil
}

func setFieldValue(fv reflect.Value, value string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Ptr:
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		return setFieldValue(fv.Elem(), value)
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

func formatSuccessResponse(c echo.Context, status int, data any) error {
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(status, APIResponse{
		Data: data,
		Meta: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func formatErrorResponse(c echo.Context, apiErr IAPIError, details bool) error {
	errorResp := &APIErrorResponse{
		Code:    apiErr.ErrorCode(),
		Message: apiErr.Message(),
	}
	if details {
		if d := apiErr.Details(); len(d) > 0 {
			errorResp.Details = d
		}
	}

	return c.JSON(apiErr.HTTPStatus(), APIResponse{
		Error: errorResp,
		Meta: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": c.Response().Header().Get(echo.HeaderXRequestID),
		},
	})
}

// ResultLike lets a handler pick the success status.
type ResultLike interface {
	ResultMeta() (status int, data any)
}

// Result carries a payload with an explicit status.
type Result[R any] struct {
	Data   R
	Status int
}

// ResultMeta implements ResultLike.
func (r Result[R]) ResultMeta() (status int, data any) {
	return r.Status, r.Data
}

// NoContentResult is a 204 without a body.
type NoContentResult struct{}

// ResultMeta implements ResultLike.
func (NoContentResult) ResultMeta() (status int, data any) {
	return http.StatusNoContent, nil
}

// Created returns a 201 Result for data.
func Created[R any](data R) Result[R] {
	return Result[R]{Data: data, Status: http.StatusCreated}
}

// NoContent returns a 204 result.
func NoContent() NoContentResult { return NoContentResult{} }
