package models

import "time"

// LabUsage aggregates bookings held on one lab.
type LabUsage struct {
	LabID         string `json:"lab_id"`
	LabName       string `json:"lab_name"`
	Bookings      int    `json:"bookings"`
	BookedMinutes int    `json:"booked_minutes"`
	Revenue       int64  `json:"revenue"`
}

// ReportSummary backs the admin dashboard and reports page.
type ReportSummary struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	BookingsByStatus map[string]int `json:"bookings_by_status"`
	LabsByStatus     map[string]int `json:"labs_by_status"`
	UsersByRole      map[string]int `json:"users_by_role"`
	PendingApprovals int            `json:"pending_approvals"`
	AwaitingPayment  int            `json:"awaiting_payment"`
	RefundsOwed      int            `json:"refunds_owed"`
	Revenue          int64          `json:"revenue"`
	LabUsage         []LabUsage     `json:"lab_usage"`
}
