package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/homewiz/internal/domain"
)

func TestBuildingStoreList(t *testing.T) {
	d := openTestDB(t)
	entities := NewEntityStore(d)
	ctx := context.Background()

	_, err := entities.Create(ctx, domain.KindBuilding, domain.Fields{"building_name": "Willow"})
	require.NoError(t, err)
	_, err = entities.Create(ctx, domain.KindBuilding, domain.Fields{
		"building_name":   "Aspen",
		"building_images": `["https://a/1.jpg", "relative.jpg"]`,
	})
	require.NoError(t, err)

	buildings, err := NewBuildingStore(d).List(ctx)
	require.NoError(t, err)
	require.Len(t, buildings, 2)
	assert.Equal(t, "Aspen", buildings[0].BuildingName)
	assert.Equal(t, []string{"https://a/1.jpg"}, buildings[0].Images)
	assert.Equal(t, "Willow", buildings[1].BuildingName)
}

func TestBuildingStoreGetByID_NotFound(t *testing.T) {
	b, err := NewBuildingStore(openTestDB(t)).GetByID(context.Background(), "bld_missing")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestRoomStore(t *testing.T) {
	d := openTestDB(t)
	entities := NewEntityStore(d)
	rooms := NewRoomStore(d)
	ctx := context.Background()

	bid, err := entities.Create(ctx, domain.KindBuilding, domain.Fields{"building_name": "Cedar"})
	require.NoError(t, err)
	r1, err := entities.Create(ctx, domain.KindRoom, domain.Fields{
		"room_number":       "102",
		"building_id":       bid,
		"private_room_rent": 1250.5,
		"view":              "garden",
	})
	require.NoError(t, err)
	_, err = entities.Create(ctx, domain.KindRoom, domain.Fields{"room_number": "101", "building_id": bid})
	require.NoError(t, err)
	_, err = entities.Create(ctx, domain.KindRoom, domain.Fields{"room_number": "900"})
	require.NoError(t, err)

	got, err := rooms.GetByID(ctx, r1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "102", got.RoomNumber)
	require.NotNil(t, got.BuildingID)
	assert.Equal(t, bid, *got.BuildingID)
	require.NotNil(t, got.PrivateRoomRent)
	assert.InDelta(t, 1250.5, *got.PrivateRoomRent, 0.001)
	require.NotNil(t, got.View)
	assert.Equal(t, "garden", *got.View)
	assert.Equal(t, "AVAILABLE", got.Status)
	assert.Equal(t, int64(1), got.MaximumPeopleInRoom)
	assert.Equal(t, []string{}, got.Images)

	inBuilding, err := rooms.List(ctx, bid)
	require.NoError(t, err)
	require.Len(t, inBuilding, 2)
	assert.Equal(t, "101", inBuilding[0].RoomNumber)
	assert.Equal(t, "102", inBuilding[1].RoomNumber)

	all, err := rooms.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ids, err := rooms.IDsForBuilding(ctx, bid)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	missing, err := rooms.GetByID(ctx, "rm_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
