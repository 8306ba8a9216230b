// Package httpapi exposes the scheduling engine and the operational sync
// controls over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teresa-solution/calendar-sync-service/internal/model"
	"github.com/teresa-solution/calendar-sync-service/internal/service"
)

// SettingsStore is the slice of the settings repository the API needs for
// the settings and working-hours endpoints.
type SettingsStore interface {
	GetOrCreate(ctx context.Context, orgID uuid.UUID) (*model.OrgCalendarSettings, error)
	Update(ctx context.Context, s *model.OrgCalendarSettings) error
	ListWorkingHours(ctx context.Context, orgID, workerID uuid.UUID) ([]model.WorkingHours, error)
	UpsertWorkingHours(ctx context.Context, wh *model.WorkingHours) error
}

// TimeOffStore is the slice of the time-off repository behind the time-off
// endpoints.
type TimeOffStore interface {
	Create(ctx context.Context, t *model.TimeOff) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListInRange(ctx context.Context, orgID, workerID uuid.UUID, from, to time.Time) ([]model.TimeOff, error)
}

// Server wires the services into an echo instance.
type Server struct {
	scheduler *service.Scheduler
	conflicts *service.ConflictDetector
	holds     *service.HoldService
	accounts  *service.AccountService
	processor *service.SyncProcessor
	health    *service.HealthService
	settings  SettingsStore
	timeOff   TimeOffStore
}

func NewServer(
	scheduler *service.Scheduler,
	conflicts *service.ConflictDetector,
	holds *service.HoldService,
	accounts *service.AccountService,
	processor *service.SyncProcessor,
	health *service.HealthService,
	settings SettingsStore,
	timeOff TimeOffStore,
) *Server {
	return &Server{
		scheduler: scheduler,
		conflicts: conflicts,
		holds:     holds,
		accounts:  accounts,
		processor: processor,
		health:    health,
		settings:  settings,
		timeOff:   timeOff,
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Echo builds the router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")

	api.GET("/availability", s.handleAvailability)
	api.POST("/conflicts/check", s.handleConflictCheck)

	api.POST("/holds", s.handleGenerateHolds)
	api.GET("/holds/:id", s.handleGetHold)
	api.POST("/holds/:id/confirm", s.handleConfirmHold)
	api.DELETE("/holds", s.handleCancelHolds)

	api.GET("/time-off", s.handleListTimeOff)
	api.POST("/time-off", s.handleCreateTimeOff)
	api.DELETE("/time-off/:id", s.handleDeleteTimeOff)

	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings)
	api.GET("/working-hours", s.handleListWorkingHours)
	api.PUT("/working-hours", s.handleUpsertWorkingHours)

	api.GET("/google/connect", s.handleConnect)
	api.GET("/google/callback", s.handleCallback)
	api.DELETE("/google/account", s.handleDisconnect)

	api.POST("/sync/run", s.handleSyncRun)
	api.GET("/sync/jobs/:id", s.handleGetSyncJob)
	api.POST("/sync/retry-failed", s.handleRetryFailed)
	api.POST("/sync/clear-stuck", s.handleClearStuck)
	api.GET("/sync/health", s.handleSyncHealth)

	return e
}
