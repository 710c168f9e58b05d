package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/persistence"
)

type bookingService interface {
	CreateBooking(ctx context.Context, params application.CreateBookingParams) (application.BookingResult, []application.OverlapWarning, error)
	GetBooking(ctx context.Context, principal application.Principal, bookingID string) (application.BookingResult, error)
	ListBookingsForActor(ctx context.Context, params application.ListBookingsParams) ([]persistence.Booking, []application.OverlapWarning, error)
	CoachRespond(ctx context.Context, params application.CoachRespondParams) (application.BookingResult, error)
	SubmitPayment(ctx context.Context, params application.SubmitPaymentParams) (application.SubmitPaymentResult, error)
	JoinPublicGroup(ctx context.Context, params application.JoinPublicGroupParams) (application.JoinPublicGroupResult, error)
	Cancel(ctx context.Context, params application.CancelParams) (application.BookingResult, error)
	MarkComplete(ctx context.Context, params application.MarkCompleteParams) (application.BookingResult, error)
	Dispute(ctx context.Context, params application.DisputeParams) (application.BookingResult, error)
	ListParticipants(ctx context.Context, principal application.Principal, bookingID string) ([]persistence.BookingParticipant, error)
	ListTransitions(ctx context.Context, principal application.Principal, bookingID string) ([]persistence.BookingStateTransition, error)
}

type BookingHandler struct {
	service   bookingService
	responder responder
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{service: service, responder: newResponder(logger)}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	// The header wins over the body field so proxies that inject keys
	// do not have to rewrite payloads.
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, warnings, err := h.service.CreateBooking(r.Context(), application.CreateBookingParams{
		Principal: principal,
		Input:     req.toInput(idempotencyKey),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, warnings, http.StatusCreated)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.GetBooking(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, nil, http.StatusOK)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params := buildListParams(r.URL.Query(), principal)

	bookings, warnings, err := h.service.ListBookingsForActor(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	response := listBookingsResponse{
		Bookings: toBookingDTOs(bookings),
		Warnings: toWarningDTOs(warnings),
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
}

func (h *BookingHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.CoachRespond(r.Context(), application.CoachRespondParams{
		Principal:     principal,
		BookingID:     bookingID,
		ParticipantID: trimPtr(req.ParticipantID),
		Accept:        req.Accept,
		Note:          strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, nil, http.StatusOK)
}

func (h *BookingHandler) Pay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.SubmitPayment(r.Context(), application.SubmitPaymentParams{
		Principal: principal,
		BookingID: bookingID,
		CardToken: strings.TrimSpace(req.CardToken),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, payResponse{
		Booking:    toBookingDTOWithDetail(result.Booking, &result.Detail),
		GatewayRef: result.GatewayRef,
	})
}

func (h *BookingHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.JoinPublicGroup(r.Context(), application.JoinPublicGroupParams{
		Principal: principal,
		BookingID: bookingID,
		CardToken: strings.TrimSpace(req.CardToken),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, joinResponse{
		Participant:  toParticipantDTO(result.Participant),
		GatewayRef:   result.GatewayRef,
		ClientSecret: result.ClientSecret,
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	req := cancelRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.Cancel(r.Context(), application.CancelParams{
		Principal:     principal,
		BookingID:     bookingID,
		ParticipantID: trimPtr(req.ParticipantID),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, nil, http.StatusOK)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.MarkComplete(r.Context(), application.MarkCompleteParams{
		Principal: principal,
		BookingID: bookingID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, nil, http.StatusOK)
}

func (h *BookingHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.Dispute(r.Context(), application.DisputeParams{
		Principal: principal,
		BookingID: bookingID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderBooking(r.Context(), w, result, nil, http.StatusOK)
}

func (h *BookingHandler) Participants(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	participants, err := h.service.ListParticipants(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listParticipantsResponse{
		Participants: toParticipantDTOs(participants),
	})
}

func (h *BookingHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	transitions, err := h.service.ListTransitions(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listTransitionsResponse{
		Transitions: toTransitionDTOs(transitions),
	})
}

func (h *BookingHandler) renderBooking(ctx context.Context, w http.ResponseWriter, result application.BookingResult, warnings []application.OverlapWarning, status int) {
	payload := bookingResponse{
		Booking:  toBookingDTOWithDetail(result.Booking, &result.Detail),
		Warnings: toWarningDTOs(warnings),
	}
	h.responder.writeJSON(ctx, w, status, payload)
}

type createBookingRequest struct {
	Type                string      `json:"type"`
	CoachID             string      `json:"coach_id"`
	ScheduledStartAt    string      `json:"scheduled_start_at"`
	ScheduledEndAt      string      `json:"scheduled_end_at"`
	Location            locationDTO `json:"location"`
	Currency            string      `json:"currency"`
	IdempotencyKey      string      `json:"idempotency_key"`
	PriceCents          int64       `json:"price_cents"`
	PricePerPersonCents int64       `json:"price_per_person_cents"`
	MemberIDs           []string    `json:"member_ids"`
	MaxParticipants     int         `json:"max_participants"`
	MinParticipants     int         `json:"min_participants"`
}

func (r createBookingRequest) toInput(idempotencyKey string) application.BookingInput {
	return application.BookingInput{
		Type:             strings.TrimSpace(r.Type),
		CoachID:          strings.TrimSpace(r.CoachID),
		ScheduledStartAt: parseTime(r.ScheduledStartAt),
		ScheduledEndAt:   parseTime(r.ScheduledEndAt),
		Location: persistence.Location{
			Name:    strings.TrimSpace(r.Location.Name),
			Address: trimPtr(r.Location.Address),
			Notes:   r.Location.Notes,
		},
		Currency:            strings.TrimSpace(r.Currency),
		IdempotencyKey:      idempotencyKey,
		PriceCents:          r.PriceCents,
		PricePerPersonCents: r.PricePerPersonCents,
		MemberIDs:           append([]string(nil), r.MemberIDs...),
		MaxParticipants:     r.MaxParticipants,
		MinParticipants:     r.MinParticipants,
	}
}

type respondRequest struct {
	Accept        bool    `json:"accept"`
	ParticipantID *string `json:"participant_id"`
	Note          string  `json:"note"`
}

type payRequest struct {
	CardToken string `json:"card_token"`
}

type cancelRequest struct {
	ParticipantID *string `json:"participant_id"`
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type bookingResponse struct {
	Booking  bookingDTO          `json:"booking"`
	Warnings []overlapWarningDTO `json:"warnings,omitempty"`
}

type listBookingsResponse struct {
	Bookings []bookingDTO        `json:"bookings"`
	Warnings []overlapWarningDTO `json:"warnings,omitempty"`
}

type payResponse struct {
	Booking    bookingDTO `json:"booking"`
	GatewayRef string     `json:"gateway_ref"`
}

type joinResponse struct {
	Participant  participantDTO `json:"participant"`
	GatewayRef   string         `json:"gateway_ref"`
	ClientSecret string         `json:"client_secret,omitempty"`
}

type listParticipantsResponse struct {
	Participants []participantDTO `json:"participants"`
}

type listTransitionsResponse struct {
	Transitions []transitionDTO `json:"transitions"`
}

type locationDTO struct {
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

type bookingDTO struct {
	ID                 string                 `json:"id"`
	Type               string                 `json:"type"`
	CoachID            string                 `json:"coach_id"`
	ApprovalStatus     string                 `json:"approval_status"`
	FulfillmentStatus  string                 `json:"fulfillment_status"`
	ScheduledStartAt   string                 `json:"scheduled_start_at"`
	ScheduledEndAt     string                 `json:"scheduled_end_at"`
	DurationMinutes    int                    `json:"duration_minutes"`
	Location           locationDTO            `json:"location"`
	RespondBy          *string                `json:"respond_by,omitempty"`
	CoachRespondedAt   *string                `json:"coach_responded_at,omitempty"`
	CancelledBy        *string                `json:"cancelled_by,omitempty"`
	CancelledAt        *string                `json:"cancelled_at,omitempty"`
	CancellationReason *string                `json:"cancellation_reason,omitempty"`
	CreatedAt          string                 `json:"created_at"`
	UpdatedAt          string                 `json:"updated_at"`
	Individual         *individualDetailDTO   `json:"individual,omitempty"`
	PrivateGroup       *privateGroupDetailDTO `json:"private_group,omitempty"`
	PublicGroup        *publicGroupDetailDTO  `json:"public_group,omitempty"`
}

type priceBreakdownDTO struct {
	ClientChargeCents int64 `json:"client_charge_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	CoachPayoutCents  int64 `json:"coach_payout_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
}

type individualDetailDTO struct {
	ClientID      string            `json:"client_id"`
	Price         priceBreakdownDTO `json:"price"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	PaymentDueAt  *string           `json:"payment_due_at,omitempty"`
	GatewayRef    *string           `json:"gateway_ref,omitempty"`
}

type privateGroupDetailDTO struct {
	OrganizerID         string            `json:"organizer_id"`
	TotalParticipants   int               `json:"total_participants"`
	PricePerPersonCents int64             `json:"price_per_person_cents"`
	Price               priceBreakdownDTO `json:"price"`
	Currency            string            `json:"currency"`
	PaymentStatus       string            `json:"payment_status"`
	PaymentDueAt        *string           `json:"payment_due_at,omitempty"`
	GatewayRef          *string           `json:"gateway_ref,omitempty"`
}

type publicGroupDetailDTO struct {
	MaxParticipants        int    `json:"max_participants"`
	MinParticipants        int    `json:"min_participants"`
	PricePerPersonCents    int64  `json:"price_per_person_cents"`
	Currency               string `json:"currency"`
	CapacityStatus         string `json:"capacity_status"`
	CurrentParticipants    int    `json:"current_participants"`
	AuthorizedParticipants int    `json:"authorized_participants"`
	CapturedParticipants   int    `json:"captured_participants"`
}

type participantDTO struct {
	ID            string  `json:"id"`
	BookingID     string  `json:"booking_id"`
	UserID        string  `json:"user_id"`
	Role          string  `json:"role"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	GatewayRef    *string `json:"gateway_ref,omitempty"`
	HoldExpiresAt *string `json:"hold_expires_at,omitempty"`
	JoinedAt      *string `json:"joined_at,omitempty"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

type transitionDTO struct {
	ID            string  `json:"id"`
	BookingID     string  `json:"booking_id"`
	ParticipantID *string `json:"participant_id,omitempty"`
	Event         string  `json:"event"`
	FromState     string  `json:"from_state"`
	ToState       string  `json:"to_state"`
	ActorID       *string `json:"actor_id,omitempty"`
	ActorRelation string  `json:"actor_relation"`
	Reason        *string `json:"reason,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
}

type overlapWarningDTO struct {
	BookingID string `json:"booking_id"`
	Type      string `json:"type"`
	CoachID   string `json:"coach_id,omitempty"`
	PayerID   string `json:"payer_id,omitempty"`
}

func toBookingDTO(bkg persistence.Booking) bookingDTO {
	return toBookingDTOWithDetail(bkg, nil)
}

func toBookingDTOWithDetail(bkg persistence.Booking, detail *persistence.BookingDetail) bookingDTO {
	dto := bookingDTO{
		ID:                 bkg.ID,
		Type:               bkg.Type,
		CoachID:            bkg.CoachID,
		ApprovalStatus:     bkg.ApprovalStatus,
		FulfillmentStatus:  bkg.FulfillmentStatus,
		ScheduledStartAt:   formatTime(bkg.ScheduledStartAt),
		ScheduledEndAt:     formatTime(bkg.ScheduledEndAt),
		DurationMinutes:    bkg.DurationMinutes,
		Location:           locationDTO{Name: bkg.Location.Name, Address: bkg.Location.Address, Notes: bkg.Location.Notes},
		RespondBy:          formatTimePtr(bkg.RespondBy),
		CoachRespondedAt:   formatTimePtr(bkg.CoachRespondedAt),
		CancelledBy:        bkg.CancelledBy,
		CancelledAt:        formatTimePtr(bkg.CancelledAt),
		CancellationReason: bkg.CancellationReason,
		CreatedAt:          formatTime(bkg.CreatedAt),
		UpdatedAt:          formatTime(bkg.UpdatedAt),
	}

	if detail == nil {
		return dto
	}

	switch {
	case detail.Individual != nil:
		d := detail.Individual
		dto.Individual = &individualDetailDTO{
			ClientID:      d.ClientID,
			Price:         toPriceDTO(d.Price),
			Currency:      d.Currency,
			PaymentStatus: d.PaymentStatus,
			PaymentDueAt:  formatTimePtr(d.PaymentDueAt),
			GatewayRef:    d.GatewayRef,
		}
	case detail.PrivateGroup != nil:
		d := detail.PrivateGroup
		dto.PrivateGroup = &privateGroupDetailDTO{
			OrganizerID:         d.OrganizerID,
			TotalParticipants:   d.TotalParticipants,
			PricePerPersonCents: d.PricePerPersonCents,
			Price:               toPriceDTO(d.Price),
			Currency:            d.Currency,
			PaymentStatus:       d.PaymentStatus,
			PaymentDueAt:        formatTimePtr(d.PaymentDueAt),
			GatewayRef:          d.GatewayRef,
		}
	case detail.PublicGroup != nil:
		d := detail.PublicGroup
		dto.PublicGroup = &publicGroupDetailDTO{
			MaxParticipants:        d.MaxParticipants,
			MinParticipants:        d.MinParticipants,
			PricePerPersonCents:    d.PricePerPersonCents,
			Currency:               d.Currency,
			CapacityStatus:         d.CapacityStatus,
			CurrentParticipants:    d.CurrentParticipants,
			AuthorizedParticipants: d.AuthorizedParticipants,
			CapturedParticipants:   d.CapturedParticipants,
		}
	}

	return dto
}

func toBookingDTOs(bookings []persistence.Booking) []bookingDTO {
	if len(bookings) == 0 {
		return nil
	}
	out := make([]bookingDTO, 0, len(bookings))
	for _, bkg := range bookings {
		out = append(out, toBookingDTO(bkg))
	}
	return out
}

func toPriceDTO(price persistence.PriceBreakdown) priceBreakdownDTO {
	return priceBreakdownDTO{
		ClientChargeCents: price.ClientChargeCents,
		PlatformFeeCents:  price.PlatformFeeCents,
		CoachPayoutCents:  price.CoachPayoutCents,
		ProcessorFeeCents: price.ProcessorFeeCents,
	}
}

func toParticipantDTO(participant persistence.BookingParticipant) participantDTO {
	return participantDTO{
		ID:            participant.ID,
		BookingID:     participant.BookingID,
		UserID:        participant.UserID,
		Role:          participant.Role,
		Status:        participant.Status,
		PaymentStatus: participant.PaymentStatus,
		GatewayRef:    participant.GatewayRef,
		HoldExpiresAt: formatTimePtr(participant.HoldExpiresAt),
		JoinedAt:      formatTimePtr(participant.JoinedAt),
		CancelledAt:   formatTimePtr(participant.CancelledAt),
		CreatedAt:     formatTime(participant.CreatedAt),
	}
}

func toParticipantDTOs(participants []persistence.BookingParticipant) []participantDTO {
	if len(participants) == 0 {
		return nil
	}
	out := make([]participantDTO, 0, len(participants))
	for _, participant := range participants {
		out = append(out, toParticipantDTO(participant))
	}
	return out
}

func toTransitionDTOs(transitions []persistence.BookingStateTransition) []transitionDTO {
	if len(transitions) == 0 {
		return nil
	}
	out := make([]transitionDTO, 0, len(transitions))
	for _, row := range transitions {
		out = append(out, transitionDTO{
			ID:            row.ID,
			BookingID:     row.BookingID,
			ParticipantID: row.ParticipantID,
			Event:         row.Event,
			FromState:     row.FromState,
			ToState:       row.ToState,
			ActorID:       row.ActorID,
			ActorRelation: row.ActorRelation,
			Reason:        row.Reason,
			OccurredAt:    formatTime(row.OccurredAt),
		})
	}
	return out
}

func toWarningDTOs(warnings []application.OverlapWarning) []overlapWarningDTO {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]overlapWarningDTO, 0, len(warnings))
	for _, warning := range warnings {
		out = append(out, overlapWarningDTO{
			BookingID: warning.BookingID,
			Type:      warning.Type,
			CoachID:   warning.CoachID,
			PayerID:   warning.PayerID,
		})
	}
	return out
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(ts *time.Time) *string {
	if ts == nil {
		return nil
	}
	formatted := ts.UTC().Format(time.RFC3339Nano)
	return &formatted
}

func buildListParams(values url.Values, principal application.Principal) application.ListBookingsParams {
	params := application.ListBookingsParams{Principal: principal}

	if bookingType := strings.TrimSpace(values.Get("type")); bookingType != "" {
		params.Type = &bookingType
	}
	if approval := strings.TrimSpace(values.Get("approval")); approval != "" {
		params.Approval = &approval
	}

	if after := strings.TrimSpace(values.Get("starts_after")); after != "" {
		if ts := parseTime(after); !ts.IsZero() {
			params.StartsAfter = &ts
		}
	}
	if before := strings.TrimSpace(values.Get("ends_before")); before != "" {
		if ts := parseTime(before); !ts.IsZero() {
			params.EndsBefore = &ts
		}
	}

	if day := strings.TrimSpace(values.Get("day")); day != "" {
		if ts, err := time.Parse("2006-01-02", day); err == nil {
			params.Period = application.ListPeriodDay
			params.PeriodReference = ts
		}
	} else if week := strings.TrimSpace(values.Get("week")); week != "" {
		if ts, err := time.Parse("2006-01-02", week); err == nil {
			params.Period = application.ListPeriodWeek
			params.PeriodReference = ts
		}
	} else if month := strings.TrimSpace(values.Get("month")); month != "" {
		if ts, err := time.Parse("2006-01", month); err == nil {
			params.Period = application.ListPeriodMonth
			params.PeriodReference = ts
		}
	}

	return params
}
