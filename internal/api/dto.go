package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type bookingRequest struct {
	UserID    string `json:"userId,omitempty"`
	LabID     string `json:"labId" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string `json:"endTime" validate:"required,datetime=15:04"`
	Purpose   string `json:"purpose" validate:"max=1000"`
}

// parse converts the wire fields. Formats were checked by the validator.
func (r bookingRequest) parse() (date time.Time, start, end models.TimeOfDay, err error) {
	if date, err = models.ParseDate(r.Date); err != nil {
		return
	}
	if start, err = models.ParseTimeOfDay(r.StartTime); err != nil {
		return
	}
	end, err = models.ParseTimeOfDay(r.EndTime)
	return
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type confirmPaymentRequest struct {
	Outcome   string `json:"outcome" validate:"required"`
	Reference string `json:"reference" validate:"max=200"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type labRequest struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name" validate:"required,max=120"`
	Capacity   int      `json:"capacity" validate:"gte=0"`
	Equipment  []string `json:"equipment"`
	Building   string   `json:"building"`
	Floor      string   `json:"floor"`
	Status     string   `json:"status"`
	HourlyRate int64    `json:"hourlyRate" validate:"gte=0"`
}

func (r labRequest) lab() *models.Lab {
	return &models.Lab{
		ID:         r.ID,
		Name:       r.Name,
		Capacity:   r.Capacity,
		Equipment:  r.Equipment,
		Building:   r.Building,
		Floor:      r.Floor,
		Status:     r.Status,
		HourlyRate: r.HourlyRate,
	}
}

type createUserRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Role       string `json:"role" validate:"required"`
	Department string `json:"department"`
}

type broadcastRequest struct {
	Audience string `json:"audience" validate:"required"`
	Title    string `json:"title" validate:"required,max=200"`
	Message  string `json:"message" validate:"required"`
	Type     string `json:"type"`
}

// bookingResponse renders dates and times in their wire layouts.
type bookingResponse struct {
	*models.Booking
	Date      string `json:"date"`
	Confirmed bool   `json:"confirmed"`
}

func newBookingResponse(b *models.Booking) bookingResponse {
	return bookingResponse{
		Booking:   b,
		Date:      b.Date.Format(models.DateLayout),
		Confirmed: b.IsConfirmed(),
	}
}

func newBookingResponses(bookings []*models.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, newBookingResponse(b))
	}
	return out
}

const maxBodyBytes = 1 << 20

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// Failures come back as validation errors naming the offending fields.
func decodeAndValidate(r *http.Request, op string, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validation(op, "invalid JSON body: %v", err)
	}
	return validateStruct(op, dst)
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validation(op, "%v", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return domain.ValidationFields(op, fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "datetime":
		switch fe.Param() {
		case models.DateLayout:
			return "must be a date in YYYY-MM-DD format"
		case models.TimeLayout:
			return "must be a time in HH:MM format"
		}
		return "must match " + fe.Param()
	default:
		return "is invalid"
	}
}

// queryDate parses an optional date query parameter.
func queryDate(r *http.Request, op, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, domain.ValidationFields(op, map[string]string{name: "must be a date in YYYY-MM-DD format"})
	}
	return d, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
