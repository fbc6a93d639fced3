package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the {status, message, data} envelope with statusCode as both the
// HTTP status and the body status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// ListResponse writes paginated list response.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: total,
	})
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes bad request error.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return InternalServerErrorResponse(c)
}

// ErrorHandler renders echo's own errors (unknown route, wrong method, bind failures) in the
// same envelope the handlers use.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		_ = AppErrorResponse(c, appErr)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		var out *AppError
		switch he.Code {
		case http.StatusBadRequest:
			out = BadRequestError(fmt.Sprint(he.Message))
		case http.StatusUnauthorized:
			out = UnauthorizedError(fmt.Sprint(he.Message))
		case http.StatusMethodNotAllowed:
			out = MethodNotAllowedError(c.Request().Method)
		case http.StatusNotFound:
			out = NotFoundErrorf("route %s not found", c.Request().URL.Path)
		default:
			out = NewAppError("ERR_HTTP", "", http.StatusText(he.Code), he.Code)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(out.Status)
			return
		}
		_ = AppErrorResponse(c, out)
		return
	}

	_ = InternalServerErrorResponse(c)
}
