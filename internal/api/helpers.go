package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/functions"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	})
}

// writeKindError maps an error kind to a status code.
func writeKindError(c *echo.Context, err error) error {
	status, body := errorBody(err)
	return c.JSON(status, map[string]any{"error": body})
}

func errorBody(err error) (int, ResponseError) {
	status, errType := statusFor(err)
	body := ResponseError{Message: err.Error(), Type: errType}
	if k := errs.KindOf(err); k != nil {
		body.Code = k.Error()
	}
	return status, body
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, errs.ErrRender), errors.Is(err, errs.ErrParse):
		return http.StatusUnprocessableEntity, "unprocessable_entity_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// requestCatalog parses an inline catalog, or returns fallback when none was
// sent.
func requestCatalog(raw json.RawMessage, fallback *functions.Catalog) (*functions.Catalog, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if fallback == nil {
			return nil, errs.New(errs.ErrInvalidArgument, "catalog", "functions are required")
		}
		return fallback, nil
	}
	return functions.ParseBytes(raw)
}

func sendSSE(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
