package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

// SeedUser is a user entry of the seed file. Password is hashed on load.
type SeedUser struct {
	models.User `yaml:",inline"`
	Password    string `yaml:"password"`
}

type SeedData struct {
	Labs  []models.Lab `yaml:"labs"`
	Users []SeedUser   `yaml:"users"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// ApplySeed inserts seed records that do not exist yet, so it can run on
// every start. It returns the number of records created.
func ApplySeed(ctx context.Context, store domain.Store, seed *SeedData, bcryptCost int, logger *zerolog.Logger) (int, error) {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	now := time.Now().UTC()
	created := 0

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		for i := range seed.Labs {
			lab := seed.Labs[i].Clone()
			if lab.Status == "" {
				lab.Status = models.LabAvailable
			}
			lab.Equipment = models.NormalizeEquipment(lab.Equipment)
			if err := lab.Validate(); err != nil {
				return fmt.Errorf("seed lab %s: %w", lab.ID, err)
			}
			if _, err := tx.Labs().GetLab(ctx, lab.ID); err == nil {
				continue
			}
			lab.CreatedAt, lab.UpdatedAt = now, now
			if err := tx.Labs().CreateLab(ctx, lab); err != nil {
				if errors.Is(err, domain.ErrDuplicateRecord) {
					continue
				}
				return fmt.Errorf("seed lab %s: %w", lab.ID, err)
			}
			created++
		}

		for i := range seed.Users {
			u := seed.Users[i].User.Clone()
			u.Email = models.NormalizeEmail(u.Email)
			if u.Status == "" {
				u.Status = models.UserActive
			}
			if !models.IsValidRole(u.Role) {
				return fmt.Errorf("seed user %s: unknown role %q", u.ID, u.Role)
			}
			if _, err := tx.Users().GetUserByEmail(ctx, u.Email); err == nil {
				continue
			}
			if pw := seed.Users[i].Password; pw != "" {
				hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
				if err != nil {
					return fmt.Errorf("seed user %s: %w", u.ID, err)
				}
				u.PasswordHash = string(hash)
			}
			u.CreatedAt, u.UpdatedAt = now, now
			if err := tx.Users().CreateUser(ctx, u); err != nil {
				if errors.Is(err, domain.ErrDuplicateRecord) {
					continue
				}
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info().Int("created", created).Int("labs", len(seed.Labs)).Int("users", len(seed.Users)).Msg("Seed applied")
	return created, nil
}
