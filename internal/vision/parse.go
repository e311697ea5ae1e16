package vision

import (
	"strings"

	"github.com/vbonduro/homewiz/internal/domain"
)

var categoryAliases = []struct {
	alias    string
	category domain.MediaCategory
}{
	{"kitchen_bathrooms", domain.CategoryKitchenBathrooms},
	{"common_areas", domain.CategoryCommonAreas},
	{"common areas", domain.CategoryCommonAreas},
	{"common area", domain.CategoryCommonAreas},
	{"amenities", domain.CategoryAmenities},
	{"amenity", domain.CategoryAmenities},
	{"outside", domain.CategoryOutside},
	{"exterior", domain.CategoryOutside},
	{"kitchen", domain.CategoryKitchenBathrooms},
	{"bathroom", domain.CategoryKitchenBathrooms},
}

// ParseCategory maps a model reply onto the building category set. The
// category mentioned earliest in the reply wins.
func ParseCategory(raw string) (domain.MediaCategory, bool) {
	text := strings.ToLower(raw)
	best := -1
	var found domain.MediaCategory
	for _, a := range categoryAliases {
		idx := strings.Index(text, a.alias)
		if idx < 0 {
			continue
		}
		if best == -1 || idx < best {
			best = idx
			found = a.category
		}
	}
	return found, best >= 0
}
