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

const roomColumns = `room_id, room_number, building_id, floor_number, maximum_people_in_room,
	private_room_rent, bathroom_type, bed_size, bed_type, "view", sq_footage, status,
	room_images, created_at, updated_at`

type RoomStore struct {
	db *sqlx.DB
}

func NewRoomStore(db *sqlx.DB) *RoomStore {
	return &RoomStore{db: db}
}

// GetByID returns nil, nil when no room has the id.
func (s *RoomStore) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	r := &domain.Room{}
	err := s.db.GetContext(ctx, r, s.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE room_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", classify("get room", err))
	}
	r.Images = media.Normalize(media.Text(r.RawImages))
	return r, nil
}

// List returns all rooms, or only those of buildingID when it is non-empty.
func (s *RoomStore) List(ctx context.Context, buildingID string) ([]*domain.Room, error) {
	var rooms []*domain.Room
	var err error
	if buildingID == "" {
		err = s.db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM rooms ORDER BY room_number ASC, room_id ASC`)
	} else {
		err = s.db.SelectContext(ctx, &rooms,
			s.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE building_id = ? ORDER BY room_number ASC, room_id ASC`),
			buildingID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", classify("list rooms", err))
	}
	for _, r := range rooms {
		r.Images = media.Normalize(media.Text(r.RawImages))
	}
	return rooms, nil
}

// IDsForBuilding returns the ids of every room in a building.
func (s *RoomStore) IDsForBuilding(ctx context.Context, buildingID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT room_id FROM rooms WHERE building_id = ? ORDER BY room_id`), buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room ids: %w", classify("list room ids", err))
	}
	return ids, nil
}
