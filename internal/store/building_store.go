package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/media"
)

const buildingColumns = `building_id, building_name, full_address, operator_id, street, area, city,
	state, zip, floors, total_rooms, total_bathrooms, wifi_included, laundry_onsite,
	building_images, created_at, updated_at`

type BuildingStore struct {
	db *sqlx.DB
}

func NewBuildingStore(db *sqlx.DB) *BuildingStore {
	return &BuildingStore{db: db}
}

// GetByID returns nil, nil when no building has the id.
func (s *BuildingStore) GetByID(ctx context.Context, id string) (*domain.Building, error) {
	b := &domain.Building{}
	err := s.db.GetContext(ctx, b, s.db.Rebind(`SELECT `+buildingColumns+` FROM buildings WHERE building_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get building: %w", classify("get building", err))
	}
	b.Images = media.Normalize(media.Text(b.RawImages))
	return b, nil
}

func (s *BuildingStore) List(ctx context.Context) ([]*domain.Building, error) {
	var buildings []*domain.Building
	err := s.db.SelectContext(ctx, &buildings, `SELECT `+buildingColumns+` FROM buildings ORDER BY building_name ASC, building_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list buildings: %w", classify("list buildings", err))
	}
	for _, b := range buildings {
		b.Images = media.Normalize(media.Text(b.RawImages))
	}
	return buildings, nil
}
