package service

import (
	"context"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LabService manages the lab catalog. Reads are open to every user; writes
// need an admin.
type LabService struct {
	store  domain.Store
	logger *zerolog.Logger
	now    Clock
}

func NewLabService(store domain.Store, logger *zerolog.Logger) *LabService {
	return &LabService{store: store, logger: logger, now: time.Now}
}

func (s *LabService) SetClock(clock Clock) { s.now = clock }

func (s *LabService) ListLabs(ctx context.Context, filter models.LabFilter) ([]*models.Lab, error) {
	const op = "ListLabs"
	if filter.Status != "" && !models.IsValidLabStatus(filter.Status) {
		return nil, domain.ValidationFields(op, map[string]string{"status": "must be one of available, occupied, maintenance"})
	}
	labs, err := s.store.Labs().ListLabs(ctx, filter)
	if err != nil {
		return nil, storeErr(op, "lab", "", err)
	}
	return labs, nil
}

func (s *LabService) GetLab(ctx context.Context, id string) (*models.Lab, error) {
	lab, err := s.store.Labs().GetLab(ctx, id)
	if err != nil {
		return nil, storeErr("GetLab", "lab", id, err)
	}
	return lab, nil
}

// CreateLab adds lab to the catalog, assigning an id when empty.
func (s *LabService) CreateLab(ctx context.Context, adminID string, lab *models.Lab) (*models.Lab, error) {
	const op = "CreateLab"
	lab = lab.Clone()
	if lab.ID == "" {
		lab.ID = uuid.NewString()
	}
	if lab.Status == "" {
		lab.Status = models.LabAvailable
	}
	normalizeLab(lab)
	if err := lab.Validate(); err != nil {
		return nil, domain.Validation(op, "%s", err.Error())
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		now := s.now().UTC()
		lab.CreatedAt, lab.UpdatedAt = now, now
		return storeErr(op, "lab", lab.ID, tx.Labs().CreateLab(ctx, lab))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("lab_id", lab.ID).Str("admin_id", adminID).Msg("Lab created")
	return lab, nil
}

// UpdateLab replaces the editable fields of an existing lab.
func (s *LabService) UpdateLab(ctx context.Context, adminID string, lab *models.Lab) (*models.Lab, error) {
	const op = "UpdateLab"
	lab = lab.Clone()
	normalizeLab(lab)

	var updated *models.Lab
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		current, err := tx.Labs().GetLab(ctx, lab.ID)
		if err != nil {
			return storeErr(op, "lab", lab.ID, err)
		}
		if lab.Status == "" {
			lab.Status = current.Status
		}
		if err := lab.Validate(); err != nil {
			return domain.Validation(op, "%s", err.Error())
		}
		lab.CreatedAt = current.CreatedAt
		lab.UpdatedAt = s.now().UTC()
		if err := tx.Labs().UpdateLab(ctx, lab); err != nil {
			return storeErr(op, "lab", lab.ID, err)
		}
		updated = lab
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("lab_id", lab.ID).Str("admin_id", adminID).Msg("Lab updated")
	return updated, nil
}

// SetLabStatus changes the operational status. Existing bookings are kept;
// maintenance only blocks new submissions and edits.
func (s *LabService) SetLabStatus(ctx context.Context, adminID, labID, status string) (*models.Lab, error) {
	const op = "SetLabStatus"
	if !models.IsValidLabStatus(status) {
		return nil, domain.ValidationFields(op, map[string]string{"status": "must be one of available, occupied, maintenance"})
	}

	var lab *models.Lab
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		l, err := tx.Labs().GetLab(ctx, labID)
		if err != nil {
			return storeErr(op, "lab", labID, err)
		}
		l.Status = status
		l.UpdatedAt = s.now().UTC()
		if err := tx.Labs().UpdateLab(ctx, l); err != nil {
			return storeErr(op, "lab", labID, err)
		}
		lab = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("lab_id", labID).Str("status", status).Msg("Lab status changed")
	return lab, nil
}

// DeleteLab removes a lab that holds no pending or approved bookings.
func (s *LabService) DeleteLab(ctx context.Context, adminID, labID string) error {
	const op = "DeleteLab"
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		if _, err := tx.Labs().GetLab(ctx, labID); err != nil {
			return storeErr(op, "lab", labID, err)
		}
		active, err := tx.Bookings().ListBookings(ctx, models.BookingFilter{
			LabID:    labID,
			Statuses: []string{models.StatusPending, models.StatusApproved},
		})
		if err != nil {
			return storeErr(op, "booking", labID, err)
		}
		if len(active) > 0 {
			return domain.InvalidState(op, "lab %s has %d active bookings", labID, len(active))
		}
		return storeErr(op, "lab", labID, tx.Labs().DeleteLab(ctx, labID))
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("lab_id", labID).Str("admin_id", adminID).Msg("Lab deleted")
	return nil
}

func normalizeLab(lab *models.Lab) {
	lab.Name = strings.TrimSpace(lab.Name)
	lab.Building = strings.TrimSpace(lab.Building)
	lab.Floor = strings.TrimSpace(lab.Floor)
	lab.Equipment = models.NormalizeEquipment(lab.Equipment)
}
