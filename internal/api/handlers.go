package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"labreserve/internal/domain"
	"labreserve/internal/models"
	"labreserve/internal/service"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(r, "Login", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.svc.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.writeToken(w, http.StatusOK, user)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(r, "Register", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.svc.Users.Register(r.Context(), service.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.writeToken(w, http.StatusCreated, user)
}

func (s *HTTPServer) writeToken(w http.ResponseWriter, status int, user *models.User) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: expires, User: user})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actor(r))
}

func (s *HTTPServer) handleListLabs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	labs, err := s.svc.Labs.ListLabs(r.Context(), models.LabFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Search: strings.TrimSpace(q.Get("search")),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labs": labs})
}

func (s *HTTPServer) handleGetLab(w http.ResponseWriter, r *http.Request) {
	lab, err := s.svc.Labs.GetLab(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

// handleAvailability lists busy intervals of a lab day. With start and end
// it also answers whether that slot is free.
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	const op = "Availability"
	labID := chi.URLParam(r, "id")
	q := r.URL.Query()

	date, err := queryDate(r, op, "date")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if date.IsZero() {
		writeError(w, s.logger, domain.ValidationFields(op, map[string]string{"date": "is required"}))
		return
	}

	busy, err := s.svc.Availability.BusyIntervals(r.Context(), labID, date)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp := map[string]any{
		"lab_id": labID,
		"date":   date.Format(models.DateLayout),
		"busy":   busy,
	}

	if rawStart, rawEnd := q.Get("start"), q.Get("end"); rawStart != "" || rawEnd != "" {
		start, errStart := models.ParseTimeOfDay(rawStart)
		end, errEnd := models.ParseTimeOfDay(rawEnd)
		if errStart != nil || errEnd != nil {
			fields := map[string]string{}
			if errStart != nil {
				fields["start"] = "must be a time in HH:MM format"
			}
			if errEnd != nil {
				fields["end"] = "must be a time in HH:MM format"
			}
			writeError(w, s.logger, domain.ValidationFields(op, fields))
			return
		}
		conflict, err := s.svc.Availability.CheckConflict(r.Context(), labID, date, start, end, "")
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		resp["available"] = !conflict
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSubmitBooking(w http.ResponseWriter, r *http.Request) {
	const op = "SubmitBooking"
	var req bookingRequest
	if err := decodeAndValidate(r, op, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	u := actor(r)
	if req.UserID != "" && req.UserID != u.ID {
		writeError(w, s.logger, domain.Permission(op, "bookings can only be submitted for yourself"))
		return
	}
	date, start, end, err := req.parse()
	if err != nil {
		writeError(w, s.logger, domain.Validation(op, "%v", err))
		return
	}

	b, err := s.svc.Bookings.SubmitBooking(r.Context(), service.SubmitRequest{
		UserID:  u.ID,
		LabID:   req.LabID,
		Date:    date,
		Start:   start,
		End:     end,
		Purpose: req.Purpose,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.GetBooking(r.Context(), actor(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleModifyBooking(w http.ResponseWriter, r *http.Request) {
	const op = "ModifyBooking"
	var req bookingRequest
	if err := decodeAndValidate(r, op, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	u := actor(r)
	if req.UserID != "" && req.UserID != u.ID {
		writeError(w, s.logger, domain.Permission(op, "bookings can only be modified by their owner"))
		return
	}
	date, start, end, err := req.parse()
	if err != nil {
		writeError(w, s.logger, domain.Validation(op, "%v", err))
		return
	}

	b, err := s.svc.Bookings.ModifyBooking(r.Context(), service.ModifyRequest{
		BookingID: chi.URLParam(r, "id"),
		UserID:    u.ID,
		LabID:     req.LabID,
		Date:      date,
		Start:     start,
		End:       end,
		Purpose:   req.Purpose,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeAndValidate(r, "CancelBooking", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	b, err := s.svc.Bookings.CancelBooking(r.Context(), chi.URLParam(r, "id"), actor(r).ID, req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleApproveBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.ApproveBooking(r.Context(), chi.URLParam(r, "id"), actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleRejectBooking(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeAndValidate(r, "RejectBooking", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	b, err := s.svc.Bookings.RejectBooking(r.Context(), chi.URLParam(r, "id"), actor(r).ID, req.Reason)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	intentID, err := s.svc.Payments.InitiatePayment(r.Context(), id, actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"booking_id": id, "intent_id": intentID})
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeAndValidate(r, "ConfirmPayment", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	b, err := s.svc.Payments.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), actor(r).ID, req.Outcome, req.Reference)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), actor(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": newBookingResponses(bookings)})
}

func (s *HTTPServer) handleUserNotifications(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	notes, err := s.svc.Notifications.ListUserNotifications(r.Context(), actor(r).ID, chi.URLParam(r, "id"), unread)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Notifications.MarkAllRead(r.Context(), actor(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), actor(r).ID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAdminBookings(w http.ResponseWriter, r *http.Request) {
	const op = "ListBookings"
	q := r.URL.Query()
	from, err := queryDate(r, op, "from")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	to, err := queryDate(r, op, "to")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	bookings, err := s.svc.Bookings.ListBookings(r.Context(), actor(r).ID, models.BookingFilter{
		Statuses: splitCSV(q.Get("status")),
		LabID:    strings.TrimSpace(q.Get("labId")),
		UserID:   strings.TrimSpace(q.Get("userId")),
		From:     from,
		To:       to,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": newBookingResponses(bookings)})
}

func (s *HTTPServer) handleCreateLab(w http.ResponseWriter, r *http.Request) {
	var req labRequest
	if err := decodeAndValidate(r, "CreateLab", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lab, err := s.svc.Labs.CreateLab(r.Context(), actor(r).ID, req.lab())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, lab)
}

func (s *HTTPServer) handleUpdateLab(w http.ResponseWriter, r *http.Request) {
	var req labRequest
	if err := decodeAndValidate(r, "UpdateLab", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lab := req.lab()
	lab.ID = chi.URLParam(r, "id")
	updated, err := s.svc.Labs.UpdateLab(r.Context(), actor(r).ID, lab)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteLab(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Labs.DeleteLab(r.Context(), actor(r).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleLabStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeAndValidate(r, "SetLabStatus", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	lab, err := s.svc.Labs.SetLabStatus(r.Context(), actor(r).ID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.svc.Users.ListUsers(r.Context(), actor(r).ID, models.UserFilter{
		Role:   strings.TrimSpace(q.Get("role")),
		Status: strings.TrimSpace(q.Get("status")),
		Search: strings.TrimSpace(q.Get("search")),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeAndValidate(r, "CreateUser", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.svc.Users.CreateUser(r.Context(), actor(r).ID, service.CreateUserRequest{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Role:       req.Role,
		Department: req.Department,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeAndValidate(r, "SetUserStatus", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.svc.Users.SetStatus(r.Context(), actor(r).ID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeAndValidate(r, "Broadcast", &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	n, err := s.svc.Notifications.Broadcast(r.Context(), actor(r).ID, service.BroadcastRequest{
		Audience: req.Audience,
		Title:    req.Title,
		Message:  req.Message,
		Type:     req.Type,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recipients": n})
}

func (s *HTTPServer) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Reports.Summary(r.Context(), actor(r).ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	const op = "ExportBookings"
	from, err := queryDate(r, op, "from")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	to, err := queryDate(r, op, "to")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	data, err := s.svc.Reports.ExportBookingsXLSX(r.Context(), actor(r).ID, from, to)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "bookings.xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
