package http

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
	"fitbook/backend/internal/store"
)

type appointmentsService interface {
	Create(ctx context.Context, req domain.Requester, in appointments.CreateInput) (appointments.Result, error)
	Edit(ctx context.Context, req domain.Requester, id uuid.UUID, in appointments.EditInput) (appointments.Result, error)
	Decide(ctx context.Context, req domain.Requester, id uuid.UUID, d appointments.Decision) (appointments.Result, error)
	Cancel(ctx context.Context, req domain.Requester, id uuid.UUID) (appointments.Result, error)
	Get(ctx context.Context, req domain.Requester, id uuid.UUID) (domain.Appointment, error)
	ListMine(ctx context.Context, req domain.Requester) ([]domain.Appointment, error)
	ListAll(ctx context.Context, req domain.Requester, filter appointments.ListFilter) ([]domain.Appointment, error)
}

type availabilityService interface {
	Find(ctx context.Context, q availability.Query) ([]availability.AvailableTrainer, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Appointments appointmentsService
	Availability availabilityService
	Catalog      store.Catalog
	Tokens       tokenParser
	// RateLimit is applied to every route except the health probes.
	RateLimit gin.HandlerFunc
	Readiness []ReadinessCheck
	// Location is the facility time zone for date and time query parameters.
	Location *time.Location
	Logger   *slog.Logger
}

type handler struct {
	appts        appointmentsService
	availability availabilityService
	catalog      store.Catalog
	readiness    []ReadinessCheck
	loc          *time.Location
	log          *slog.Logger
}

var registerTagNameOnce sync.Once

// useJSONFieldNames makes binding errors report the JSON field name.
func useJSONFieldNames() {
	registerTagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func NewRouter(deps Deps) *gin.Engine {
	useJSONFieldNames()

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	h := &handler{
		appts:        deps.Appointments,
		availability: deps.Availability,
		catalog:      deps.Catalog,
		readiness:    deps.Readiness,
		loc:          loc,
		log:          log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(log))

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)

	api := r.Group("/")
	if deps.RateLimit != nil {
		api.Use(deps.RateLimit)
	}
	api.Use(authenticate(deps.Tokens, log))

	api.GET("/availability", h.findAvailability)
	api.GET("/trainers", h.listTrainers)
	api.GET("/services", h.listServices)

	member := api.Group("/appointments", requireAuthenticated())
	member.POST("", h.createAppointment)
	member.GET("", h.listMyAppointments)
	member.GET("/:id", h.getAppointment)
	member.PUT("/:id", h.editAppointment)
	member.DELETE("/:id", h.cancelAppointment)

	admin := api.Group("/admin/appointments", requireAuthenticated())
	admin.GET("", h.listAllAppointments)
	admin.POST("/:id/confirm", h.decide(appointments.DecisionConfirm))
	admin.POST("/:id/reject", h.decide(appointments.DecisionReject))
	admin.DELETE("/:id", h.cancelAppointment)

	return r
}
