package api

import (
	"errors"

	"mlass/internal/domain/models"
	"mlass/internal/usecase"
	xhttp "mlass/pkg/http"
	xlogger "mlass/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ForecastEchoHandler serves the train/predict endpoints. Handlers return
// errors instead of writing them so the observability middleware can count
// them.
type ForecastEchoHandler struct {
	logger *xlogger.Logger
	uc     *usecase.ForecastUseCase
	mw     []echo.MiddlewareFunc
}

// NewForecastEchoHandler wraps /train and /predict in mw.
func NewForecastEchoHandler(logger *xlogger.Logger, uc *usecase.ForecastUseCase, mw ...echo.MiddlewareFunc) *ForecastEchoHandler {
	return &ForecastEchoHandler{logger: logger, uc: uc, mw: mw}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/train", h.Train, h.mw...)
	e.POST("/predict", h.Predict, h.mw...)
	e.GET("/healthz", h.Health)
}

func (h *ForecastEchoHandler) Train(c echo.Context) error {
	if _, err := h.uc.Train(c.Request().Context()); err != nil {
		h.logger.Error("train usecase error", xlogger.Error(err))
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, models.MessageResponse{Message: "Model trained successfully"})
}

func (h *ForecastEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return verr
	}

	out, err := h.uc.Predict(c.Request().Context(), req.Prices)
	if err != nil {
		h.logger.Error("predict usecase error", xlogger.Error(err))
		return toAppError(err)
	}
	return xhttp.SuccessResponse(c, models.PredictResponse{Predictions: out})
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.uc.Health(c.Request().Context()))
}

// toAppError maps domain errors onto HTTP statuses. Anything unexpected is a
// 500 carrying the error text.
func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrNotTrained):
		return xhttp.BadRequestError("Model not trained")
	case errors.Is(err, models.ErrRateLimited):
		return xhttp.TooManyRequestsError(err.Error())
	case errors.Is(err, models.ErrIdentityRejected):
		return xhttp.UnauthorizedError(err.Error())
	default:
		return xhttp.InternalError(err.Error())
	}
}
