package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SuccessResponse writes data as a 200 JSON body.
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// DetailErrorResponse writes {"detail": message} with status.
func DetailErrorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, DetailResponse{Detail: message})
}

// AppErrorResponse writes err as a detail body. Errors that are not an
// *AppError or *echo.HTTPError become a 500 carrying err's message.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DetailErrorResponse(c, appErr.Status, appErr.Message)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return DetailErrorResponse(c, he.Code, msg)
	}
	return DetailErrorResponse(c, http.StatusInternalServerError, err.Error())
}

// ErrorHandler is an echo.HTTPErrorHandler producing detail bodies.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	_ = AppErrorResponse(c, err)
}
