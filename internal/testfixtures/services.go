package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/identity"
	"github.com/example/coaching-marketplace/internal/notify"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// PaymentOrchestratorDeps captures dependencies for constructing a payment
// orchestrator.
type PaymentOrchestratorDeps struct {
	Gateway     gateway.Gateway
	Ledger      application.PaymentLedger
	Locks       application.BookingLocker
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewPaymentOrchestrator builds a payment orchestrator using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewPaymentOrchestrator(deps PaymentOrchestratorDeps) *application.PaymentOrchestrator {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewPaymentOrchestratorWithLogger(
		deps.Gateway,
		deps.Ledger,
		deps.Locks,
		idGen,
		now,
		deps.Logger,
	)
}

// BookingServiceDeps captures dependencies for constructing a booking
// service.
type BookingServiceDeps struct {
	Bookings     application.BookingStore
	Participants application.ParticipantStore
	Accounts     application.AccountDirectory
	Transitions  application.TransitionLog
	Payments     *application.PaymentOrchestrator
	Machine      *booking.Machine
	Publisher    notify.Publisher
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewBookingService builds a booking service using the supplied dependencies
// combined with the factory defaults. A nil Machine falls back to the
// default lifecycle policy.
func (f *ServiceFactory) NewBookingService(deps BookingServiceDeps) *application.BookingService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewBookingServiceWithLogger(
		deps.Bookings,
		deps.Participants,
		deps.Accounts,
		deps.Transitions,
		deps.Payments,
		deps.Machine,
		deps.Publisher,
		idGen,
		now,
		deps.Logger,
	)
}

// ExpirySweeperDeps captures dependencies for constructing an expiry
// sweeper.
type ExpirySweeperDeps struct {
	Service   *application.BookingService
	Deadlines application.DeadlineStore
	Holds     application.HoldStore
	Limit     int
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewExpirySweeper builds an expiry sweeper using the supplied dependencies.
func (f *ServiceFactory) NewExpirySweeper(deps ExpirySweeperDeps) *application.ExpirySweeper {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewExpirySweeperWithLogger(
		deps.Service,
		deps.Deadlines,
		deps.Holds,
		deps.Limit,
		now,
		deps.Logger,
	)
}

// IdentityServiceDeps captures dependencies for constructing an identity
// service.
type IdentityServiceDeps struct {
	Accounts    identity.AccountStore
	Sessions    identity.SessionStore
	IDGenerator func() string
	Now         func() time.Time
	SessionTTL  time.Duration
	Logger      *slog.Logger
}

// NewIdentityService builds an identity service using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewIdentityService(deps IdentityServiceDeps) *identity.Service {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return identity.NewServiceWithLogger(
		deps.Accounts,
		deps.Sessions,
		idGen,
		now,
		ttl,
		deps.Logger,
	)
}
