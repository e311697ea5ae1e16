package domain

import "time"

// EntityKind identifies the record type an identifier or media asset belongs to.
type EntityKind string

const (
	KindBuilding EntityKind = "building"
	KindRoom     EntityKind = "room"
)

// ParseEntityKind accepts both the singular and plural spelling used in URLs.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch s {
	case "building", "buildings":
		return KindBuilding, true
	case "room", "rooms":
		return KindRoom, true
	default:
		return "", false
	}
}

func (k EntityKind) Valid() bool {
	return k == KindBuilding || k == KindRoom
}

// Table returns the SQL table holding records of this kind.
func (k EntityKind) Table() string {
	return string(k) + "s"
}

// IDColumn returns the primary key column of the kind's table.
func (k EntityKind) IDColumn() string {
	return string(k) + "_id"
}

// MediaField returns the column that stores the entity's canonical image URL list.
func (k EntityKind) MediaField() string {
	return string(k) + "_images"
}

// IDPrefix is prepended to server-assigned canonical identifiers.
func (k EntityKind) IDPrefix() string {
	if k == KindRoom {
		return "rm_"
	}
	return "bld_"
}

// Fields maps column names to values for create and update calls.
type Fields map[string]any

type Building struct {
	BuildingID     string    `db:"building_id" json:"building_id"`
	BuildingName   string    `db:"building_name" json:"building_name"`
	FullAddress    *string   `db:"full_address" json:"full_address,omitempty"`
	OperatorID     *int64    `db:"operator_id" json:"operator_id,omitempty"`
	Street         *string   `db:"street" json:"street,omitempty"`
	Area           *string   `db:"area" json:"area,omitempty"`
	City           *string   `db:"city" json:"city,omitempty"`
	State          *string   `db:"state" json:"state,omitempty"`
	Zip            *string   `db:"zip" json:"zip,omitempty"`
	Floors         *int64    `db:"floors" json:"floors,omitempty"`
	TotalRooms     *int64    `db:"total_rooms" json:"total_rooms,omitempty"`
	TotalBathrooms *int64    `db:"total_bathrooms" json:"total_bathrooms,omitempty"`
	WifiIncluded   bool      `db:"wifi_included" json:"wifi_included"`
	LaundryOnsite  bool      `db:"laundry_onsite" json:"laundry_onsite"`
	RawImages      string    `db:"building_images" json:"-"`
	Images         []string  `db:"-" json:"building_images"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Room struct {
	RoomID              string    `db:"room_id" json:"room_id"`
	RoomNumber          string    `db:"room_number" json:"room_number"`
	BuildingID          *string   `db:"building_id" json:"building_id,omitempty"`
	FloorNumber         *int64    `db:"floor_number" json:"floor_number,omitempty"`
	MaximumPeopleInRoom int64     `db:"maximum_people_in_room" json:"maximum_people_in_room"`
	PrivateRoomRent     *float64  `db:"private_room_rent" json:"private_room_rent,omitempty"`
	BathroomType        *string   `db:"bathroom_type" json:"bathroom_type,omitempty"`
	BedSize             *string   `db:"bed_size" json:"bed_size,omitempty"`
	BedType             *string   `db:"bed_type" json:"bed_type,omitempty"`
	View                *string   `db:"view" json:"view,omitempty"`
	SqFootage           *int64    `db:"sq_footage" json:"sq_footage,omitempty"`
	Status              string    `db:"status" json:"status"`
	RawImages           string    `db:"room_images" json:"-"`
	Images              []string  `db:"-" json:"room_images"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// MediaAsset is an uploaded image. Only SortOrder changes after creation.
type MediaAsset struct {
	AssetID     string        `db:"asset_id" json:"asset_id"`
	EntityKind  EntityKind    `db:"entity_kind" json:"entity_kind"`
	EntityID    string        `db:"entity_id" json:"entity_id"`
	Category    MediaCategory `db:"category" json:"category"`
	StoragePath string        `db:"storage_path" json:"storage_path"`
	PublicURL   string        `db:"public_url" json:"public_url"`
	MimeType    string        `db:"mime_type" json:"mime_type"`
	FileSize    int64         `db:"file_size" json:"file_size"`
	SortOrder   int           `db:"sort_order" json:"sort_order"`
	UploadedAt  time.Time     `db:"uploaded_at" json:"uploaded_at"`
}
