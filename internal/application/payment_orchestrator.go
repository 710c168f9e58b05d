package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/persistence"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	defaultLockTTL        = 30 * time.Second
)

// PaymentLedger appends and reads gateway attempt records.
type PaymentLedger interface {
	RecordAttempt(ctx context.Context, payment persistence.BookingPayment) error
	GetSucceededByIdempotencyKey(ctx context.Context, key string) (persistence.BookingPayment, error)
}

// BookingLocker owns the per-booking advisory lock.
type BookingLocker interface {
	AcquireLock(ctx context.Context, id string, now, until time.Time) error
	ReleaseLock(ctx context.Context, id string) error
}

// PaymentTarget names the money a gateway step acts on. GatewayRef is
// required for capture, release and refund; CardToken for fresh
// authorizations. ParticipantID is set for public-group seats only.
type PaymentTarget struct {
	BookingID     string
	ParticipantID *string
	PayerID       string
	GatewayRef    string
	AmountCents   int64
	Currency      string
	CardToken     string
	Description   string
}

// PaymentResult reports a finished gateway step. Rows carries the
// succeeded ledger rows the caller must persist atomically with the state
// they paid for. Replayed marks an idempotent short-circuit: the ledger
// already held a succeeded attempt under the key and no gateway call was
// made, so there are no new rows to persist.
type PaymentResult struct {
	GatewayRef   string
	ClientSecret string
	Rows         []persistence.BookingPayment
	Replayed     bool
}

// ParticipantSettlement reports one public-group seat resolved while
// cancelling the whole group.
type ParticipantSettlement struct {
	Participant persistence.BookingParticipant
	// Payment is the seat's payment status after settling: cancelled for
	// released holds, refunded for refunded captures.
	Payment booking.ParticipantPaymentStatus
}

// Deterministic idempotency keys. Deriving them from the booking or
// participant the money belongs to makes user retries, crash recovery and
// the sweeper converge on the same processor objects.
func chargeKey(bookingID string) string { return "charge:" + bookingID }

func authorizeKey(participantID string) string { return "authorize:" + participantID }

func captureKey(participantID string) string { return "capture:" + participantID }

func releaseKey(id string) string { return "release:" + id }

func refundKey(id string) string { return "refund:" + id }

// PaymentOrchestrator sequences gateway calls with payment ledger writes
// so money state and booking state never diverge. Succeeded rows for a
// single payment step are returned to the caller and persisted inside the
// caller's state mutation; failed attempts, the authorization half of a
// two-step charge, and bulk settlement rows are recorded immediately
// because no single mutation carries their state.
type PaymentOrchestrator struct {
	gateway     gateway.Gateway
	ledger      PaymentLedger
	locks       BookingLocker
	callTimeout time.Duration
	lockTTL     time.Duration
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewPaymentOrchestrator wires dependencies for payment sequencing.
func NewPaymentOrchestrator(gw gateway.Gateway, ledger PaymentLedger, locks BookingLocker, idGenerator func() string, now func() time.Time) *PaymentOrchestrator {
	return NewPaymentOrchestratorWithLogger(gw, ledger, locks, idGenerator, now, nil)
}

// NewPaymentOrchestratorWithLogger constructs a PaymentOrchestrator with a
// specified logger.
func NewPaymentOrchestratorWithLogger(gw gateway.Gateway, ledger PaymentLedger, locks BookingLocker, idGenerator func() string, now func() time.Time, logger *slog.Logger) *PaymentOrchestrator {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &PaymentOrchestrator{
		gateway:     gw,
		ledger:      ledger,
		locks:       locks,
		callTimeout: defaultGatewayTimeout,
		lockTTL:     defaultLockTTL,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (o *PaymentOrchestrator) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, o.logger, "PaymentOrchestrator", operation, attrs...)
}

// AcquireBookingLock takes the booking's advisory lock for the configured
// TTL. A held lock surfaces as ErrConcurrencyConflict.
func (o *PaymentOrchestrator) AcquireBookingLock(ctx context.Context, bookingID string) error {
	if o == nil {
		return fmt.Errorf("PaymentOrchestrator is nil")
	}
	if o.locks == nil {
		return fmt.Errorf("booking locker not configured")
	}
	now := o.now()
	if err := o.locks.AcquireLock(ctx, bookingID, now, now.Add(o.lockTTL)); err != nil {
		if errors.Is(err, persistence.ErrLockHeld) {
			return ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// ReleaseBookingLock drops the advisory lock. Safe to defer on every path;
// a failed release is logged and left to the TTL.
func (o *PaymentOrchestrator) ReleaseBookingLock(ctx context.Context, bookingID string) {
	if o == nil || o.locks == nil {
		return
	}
	if err := o.locks.ReleaseLock(ctx, bookingID); err != nil {
		o.loggerWith(ctx, "ReleaseBookingLock", "booking_id", bookingID).
			WarnContext(ctx, "failed to release booking lock", "error", err)
	}
}

// RecordRows appends payment rows outside a booking mutation. Callers use
// it when a compensating call succeeded but the state change it belongs to
// was never applied.
func (o *PaymentOrchestrator) RecordRows(ctx context.Context, rows []persistence.BookingPayment) error {
	if o == nil || o.ledger == nil {
		return fmt.Errorf("payment ledger not configured")
	}
	for _, row := range rows {
		if err := o.ledger.RecordAttempt(ctx, row); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
			return err
		}
	}
	return nil
}

// SucceededPayment returns the succeeded attempt the ledger holds under
// key, if any.
func (o *PaymentOrchestrator) SucceededPayment(ctx context.Context, key string) (persistence.BookingPayment, bool, error) {
	if o == nil || o.ledger == nil {
		return persistence.BookingPayment{}, false, fmt.Errorf("payment ledger not configured")
	}
	row, err := o.ledger.GetSucceededByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.BookingPayment{}, false, nil
		}
		return persistence.BookingPayment{}, false, err
	}
	return row, true, nil
}

// AuthorizeOrCharge places a hold for the target. A participant target
// leaves the hold open for coach admission; a booking target captures it
// immediately as a one-step charge.
func (o *PaymentOrchestrator) AuthorizeOrCharge(ctx context.Context, target PaymentTarget, idempotencyKey string) (result PaymentResult, err error) {
	if o == nil {
		err = fmt.Errorf("PaymentOrchestrator is nil")
		return
	}
	if o.gateway == nil {
		err = fmt.Errorf("payment gateway not configured")
		return
	}
	if o.ledger == nil {
		err = fmt.Errorf("payment ledger not configured")
		return
	}

	manual := target.ParticipantID != nil

	logger := o.loggerWith(ctx, "AuthorizeOrCharge",
		"booking_id", target.BookingID,
		"amount_cents", target.AmountCents,
		"manual_capture", manual,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "payment failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"gateway_ref", result.GatewayRef,
			"replayed", result.Replayed,
		).InfoContext(ctx, "payment step finished")
	}()

	var replayed persistence.BookingPayment
	var found bool
	replayed, found, err = o.SucceededPayment(ctx, idempotencyKey)
	if err != nil {
		return
	}
	if found {
		result = PaymentResult{GatewayRef: replayed.GatewayRef, Replayed: true}
		return
	}

	if manual {
		result, err = o.authorizeHold(ctx, target, idempotencyKey)
		return
	}
	result, err = o.charge(ctx, target, idempotencyKey)
	return
}

// authorizeHold places a manual-capture hold for one public-group seat.
func (o *PaymentOrchestrator) authorizeHold(ctx context.Context, target PaymentTarget, key string) (PaymentResult, error) {
	auth, err := o.createAuthorization(ctx, target, key, persistence.CaptureMethodManual)
	if err != nil {
		return PaymentResult{}, err
	}

	row := o.paymentRow(target, persistence.PaymentPurposeAuthorization, persistence.CaptureMethodManual, key, auth.GatewayRef, persistence.PaymentAttemptSucceeded, nil)
	return PaymentResult{
		GatewayRef:   auth.GatewayRef,
		ClientSecret: auth.ClientSecret,
		Rows:         []persistence.BookingPayment{row},
	}, nil
}

// charge authorizes and captures in two processor steps under one key. The
// authorization half is recorded the moment it succeeds, so a crash
// between the steps leaves a ledger trail a retry resolves instead of a
// second hold.
func (o *PaymentOrchestrator) charge(ctx context.Context, target PaymentTarget, key string) (PaymentResult, error) {
	authKey := key + ":auth"

	gatewayRef := ""
	authRow, found, err := o.SucceededPayment(ctx, authKey)
	if err != nil {
		return PaymentResult{}, err
	}
	if found {
		gatewayRef = authRow.GatewayRef
	}

	if gatewayRef == "" {
		auth, err := o.createAuthorization(ctx, target, authKey, persistence.CaptureMethodAutomatic)
		if err != nil {
			return PaymentResult{}, err
		}
		gatewayRef = auth.GatewayRef

		authRecord := o.paymentRow(target, persistence.PaymentPurposeAuthorization, persistence.CaptureMethodAutomatic, authKey, gatewayRef, persistence.PaymentAttemptSucceeded, nil)
		if err := o.ledger.RecordAttempt(ctx, authRecord); err != nil {
			return PaymentResult{}, err
		}
	}

	captured := target
	captured.GatewayRef = gatewayRef
	if err := o.captureRef(ctx, captured, key); err != nil {
		return PaymentResult{}, err
	}

	row := o.paymentRow(captured, persistence.PaymentPurposeCharge, persistence.CaptureMethodAutomatic, key, gatewayRef, persistence.PaymentAttemptSucceeded, nil)
	return PaymentResult{GatewayRef: gatewayRef, Rows: []persistence.BookingPayment{row}}, nil
}

// CaptureOnAcceptance settles the target's existing hold when the coach
// admits an authorized participant.
func (o *PaymentOrchestrator) CaptureOnAcceptance(ctx context.Context, target PaymentTarget, idempotencyKey string) (result PaymentResult, err error) {
	if o == nil {
		err = fmt.Errorf("PaymentOrchestrator is nil")
		return
	}
	if o.gateway == nil {
		err = fmt.Errorf("payment gateway not configured")
		return
	}
	if o.ledger == nil {
		err = fmt.Errorf("payment ledger not configured")
		return
	}

	logger := o.loggerWith(ctx, "CaptureOnAcceptance",
		"booking_id", target.BookingID,
		"gateway_ref", target.GatewayRef,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "capture failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("replayed", result.Replayed).InfoContext(ctx, "capture finished")
	}()

	var replayed persistence.BookingPayment
	var found bool
	replayed, found, err = o.SucceededPayment(ctx, idempotencyKey)
	if err != nil {
		return
	}
	if found {
		result = PaymentResult{GatewayRef: replayed.GatewayRef, Replayed: true}
		return
	}

	if err = o.captureRef(ctx, target, idempotencyKey); err != nil {
		return
	}

	row := o.paymentRow(target, persistence.PaymentPurposeCapture, persistence.CaptureMethodManual, idempotencyKey, target.GatewayRef, persistence.PaymentAttemptSucceeded, nil)
	result = PaymentResult{GatewayRef: target.GatewayRef, Rows: []persistence.BookingPayment{row}}
	return
}

// ReleaseAuthorization unwinds the target's hold without settling it.
// Releasing a hold the processor already released succeeds, so retries
// converge.
func (o *PaymentOrchestrator) ReleaseAuthorization(ctx context.Context, target PaymentTarget, idempotencyKey string) (result PaymentResult, err error) {
	if o == nil {
		err = fmt.Errorf("PaymentOrchestrator is nil")
		return
	}
	if o.gateway == nil {
		err = fmt.Errorf("payment gateway not configured")
		return
	}
	if o.ledger == nil {
		err = fmt.Errorf("payment ledger not configured")
		return
	}

	logger := o.loggerWith(ctx, "ReleaseAuthorization",
		"booking_id", target.BookingID,
		"gateway_ref", target.GatewayRef,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "release failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("replayed", result.Replayed).InfoContext(ctx, "release finished")
	}()

	var replayed persistence.BookingPayment
	var found bool
	replayed, found, err = o.SucceededPayment(ctx, idempotencyKey)
	if err != nil {
		return
	}
	if found {
		result = PaymentResult{GatewayRef: replayed.GatewayRef, Replayed: true}
		return
	}

	method := persistence.CaptureMethodAutomatic
	if target.ParticipantID != nil {
		method = persistence.CaptureMethodManual
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	if _, err = o.gateway.CancelAuthorization(callCtx, target.GatewayRef); err != nil {
		o.recordFailure(ctx, target, persistence.PaymentPurposeRelease, method, idempotencyKey, err)
		return
	}

	row := o.paymentRow(target, persistence.PaymentPurposeRelease, method, idempotencyKey, target.GatewayRef, persistence.PaymentAttemptSucceeded, nil)
	result = PaymentResult{GatewayRef: target.GatewayRef, Rows: []persistence.BookingPayment{row}}
	return
}

// Refund returns the target amount of a captured charge to the payer. A
// zero AmountCents refunds the full capture.
func (o *PaymentOrchestrator) Refund(ctx context.Context, target PaymentTarget, idempotencyKey string) (result PaymentResult, err error) {
	if o == nil {
		err = fmt.Errorf("PaymentOrchestrator is nil")
		return
	}
	if o.gateway == nil {
		err = fmt.Errorf("payment gateway not configured")
		return
	}
	if o.ledger == nil {
		err = fmt.Errorf("payment ledger not configured")
		return
	}

	logger := o.loggerWith(ctx, "Refund",
		"booking_id", target.BookingID,
		"gateway_ref", target.GatewayRef,
		"amount_cents", target.AmountCents,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "refund failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("replayed", result.Replayed).InfoContext(ctx, "refund finished")
	}()

	var replayed persistence.BookingPayment
	var found bool
	replayed, found, err = o.SucceededPayment(ctx, idempotencyKey)
	if err != nil {
		return
	}
	if found {
		result = PaymentResult{GatewayRef: replayed.GatewayRef, Replayed: true}
		return
	}

	method := persistence.CaptureMethodAutomatic
	if target.ParticipantID != nil {
		method = persistence.CaptureMethodManual
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	refund, rerr := o.gateway.Refund(callCtx, target.GatewayRef, target.AmountCents)
	if rerr != nil {
		err = rerr
		o.recordFailure(ctx, target, persistence.PaymentPurposeRefund, method, idempotencyKey, err)
		return
	}

	refunded := target
	if refund.AmountCents > 0 {
		refunded.AmountCents = refund.AmountCents
	}
	row := o.paymentRow(refunded, persistence.PaymentPurposeRefund, method, idempotencyKey, target.GatewayRef, persistence.PaymentAttemptSucceeded, nil)
	result = PaymentResult{GatewayRef: target.GatewayRef, Rows: []persistence.BookingPayment{row}}
	return
}

// SettleParticipants resolves every seat with live money when a public
// group is cancelled: open holds are released, captured seats refunded.
// Each settlement is recorded the moment its gateway call succeeds; a seat
// whose gateway call fails is logged and left for the hold sweeper or
// manual reconciliation, and the remaining seats are still settled.
func (o *PaymentOrchestrator) SettleParticipants(ctx context.Context, detail persistence.PublicGroupDetail, participants []persistence.BookingParticipant) ([]ParticipantSettlement, error) {
	if o == nil {
		return nil, fmt.Errorf("PaymentOrchestrator is nil")
	}
	if o.gateway == nil {
		return nil, fmt.Errorf("payment gateway not configured")
	}
	if o.ledger == nil {
		return nil, fmt.Errorf("payment ledger not configured")
	}

	logger := o.loggerWith(ctx, "SettleParticipants", "booking_id", detail.BookingID)

	var settlements []ParticipantSettlement
	for _, p := range participants {
		var (
			key     string
			purpose string
			after   booking.ParticipantPaymentStatus
		)
		switch booking.ParticipantPaymentStatus(p.PaymentStatus) {
		case booking.ParticipantPaymentAuthorized:
			key, purpose, after = releaseKey(p.ID), persistence.PaymentPurposeRelease, booking.ParticipantPaymentCancelled
		case booking.ParticipantPaymentCaptured:
			key, purpose, after = refundKey(p.ID), persistence.PaymentPurposeRefund, booking.ParticipantPaymentRefunded
		default:
			continue
		}

		if _, found, err := o.SucceededPayment(ctx, key); err != nil {
			return settlements, err
		} else if found {
			settlements = append(settlements, ParticipantSettlement{Participant: p, Payment: after})
			continue
		}

		if p.GatewayRef == nil || *p.GatewayRef == "" {
			logger.ErrorContext(ctx, "participant has live money but no gateway ref",
				"participant_id", p.ID, "payment_status", p.PaymentStatus)
			continue
		}

		participantID := p.ID
		target := PaymentTarget{
			BookingID:     detail.BookingID,
			ParticipantID: &participantID,
			PayerID:       p.UserID,
			GatewayRef:    *p.GatewayRef,
			AmountCents:   detail.PricePerPersonCents,
			Currency:      detail.Currency,
		}

		err := o.settleOne(ctx, target, purpose, key)
		if err != nil {
			logger.ErrorContext(ctx, "participant settlement failed",
				"participant_id", p.ID, "purpose", purpose, "error", err, "error_kind", ErrorKind(err))
			continue
		}
		settlements = append(settlements, ParticipantSettlement{Participant: p, Payment: after})
	}

	logger.With("settled", len(settlements), "total", len(participants)).
		InfoContext(ctx, "participant settlement finished")
	return settlements, nil
}

// settleOne performs and records a single settlement step.
func (o *PaymentOrchestrator) settleOne(ctx context.Context, target PaymentTarget, purpose, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	var err error
	switch purpose {
	case persistence.PaymentPurposeRelease:
		_, err = o.gateway.CancelAuthorization(callCtx, target.GatewayRef)
	case persistence.PaymentPurposeRefund:
		var refund gateway.Refund
		refund, err = o.gateway.Refund(callCtx, target.GatewayRef, target.AmountCents)
		if err == nil && refund.AmountCents > 0 {
			target.AmountCents = refund.AmountCents
		}
	default:
		return fmt.Errorf("unknown settlement purpose %q", purpose)
	}
	if err != nil {
		o.recordFailure(ctx, target, purpose, persistence.CaptureMethodManual, key, err)
		return err
	}

	row := o.paymentRow(target, purpose, persistence.CaptureMethodManual, key, target.GatewayRef, persistence.PaymentAttemptSucceeded, nil)
	return o.ledger.RecordAttempt(ctx, row)
}

// createAuthorization performs a bounded hold request and records the
// attempt on failure.
func (o *PaymentOrchestrator) createAuthorization(ctx context.Context, target PaymentTarget, key, method string) (gateway.Authorization, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	participantID := ""
	if target.ParticipantID != nil {
		participantID = *target.ParticipantID
	}
	auth, err := o.gateway.CreateAuthorization(callCtx, gateway.AuthorizationRequest{
		AmountCents:    target.AmountCents,
		Currency:       target.Currency,
		CardToken:      target.CardToken,
		IdempotencyKey: key,
		BookingID:      target.BookingID,
		ParticipantID:  participantID,
		Description:    target.Description,
	})
	if err != nil {
		o.recordFailure(ctx, target, persistence.PaymentPurposeAuthorization, method, key, err)
		return gateway.Authorization{}, err
	}
	return auth, nil
}

// captureRef settles target.GatewayRef. A hold the processor already
// captured counts as success so retries converge.
func (o *PaymentOrchestrator) captureRef(ctx context.Context, target PaymentTarget, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	if _, err := o.gateway.Capture(callCtx, target.GatewayRef); err != nil {
		if errors.Is(err, gateway.ErrAlreadyCaptured) {
			return nil
		}
		method := persistence.CaptureMethodAutomatic
		if target.ParticipantID != nil {
			method = persistence.CaptureMethodManual
		}
		o.recordFailure(ctx, target, persistence.PaymentPurposeCapture, method, key, err)
		return err
	}
	return nil
}

// recordFailure appends a failed attempt. Failed rows may repeat an
// idempotency key, so a later retry can still succeed under it.
func (o *PaymentOrchestrator) recordFailure(ctx context.Context, target PaymentTarget, purpose, method, key string, cause error) {
	var failureCode *string
	var gwErr *gateway.Error
	if errors.As(cause, &gwErr) && gwErr.Code != "" {
		code := gwErr.Code
		failureCode = &code
	}

	row := o.paymentRow(target, purpose, method, key, target.GatewayRef, persistence.PaymentAttemptFailed, failureCode)
	if err := o.ledger.RecordAttempt(ctx, row); err != nil {
		o.loggerWith(ctx, "recordFailure", "booking_id", target.BookingID).
			ErrorContext(ctx, "failed to record payment attempt", "error", err)
	}
}

func (o *PaymentOrchestrator) paymentRow(target PaymentTarget, purpose, method, key, gatewayRef, status string, failureCode *string) persistence.BookingPayment {
	return persistence.BookingPayment{
		ID:             o.idGenerator(),
		BookingID:      target.BookingID,
		ParticipantID:  target.ParticipantID,
		PayerID:        target.PayerID,
		Purpose:        purpose,
		AmountCents:    target.AmountCents,
		Currency:       target.Currency,
		CaptureMethod:  method,
		GatewayRef:     gatewayRef,
		IdempotencyKey: key,
		Status:         status,
		FailureCode:    failureCode,
		CreatedAt:      o.now(),
	}
}
