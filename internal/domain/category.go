package domain

type MediaCategory string

const (
	CategoryOutside          MediaCategory = "outside"
	CategoryCommonAreas      MediaCategory = "common_areas"
	CategoryAmenities        MediaCategory = "amenities"
	CategoryKitchenBathrooms MediaCategory = "kitchen_bathrooms"
	CategoryUncategorized    MediaCategory = "uncategorized"
)

// BuildingCategories is the closed set of categories a building photo may carry,
// in display order.
var BuildingCategories = []MediaCategory{
	CategoryOutside,
	CategoryCommonAreas,
	CategoryAmenities,
	CategoryKitchenBathrooms,
}

// ValidFor reports whether c may be attached to an entity of kind k.
// Rooms only carry uncategorized media.
func (c MediaCategory) ValidFor(k EntityKind) bool {
	switch k {
	case KindRoom:
		return c == CategoryUncategorized
	case KindBuilding:
		for _, bc := range BuildingCategories {
			if c == bc {
				return true
			}
		}
	}
	return false
}
