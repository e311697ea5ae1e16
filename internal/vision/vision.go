package vision

import (
	"context"
	"io"

	"github.com/vbonduro/homewiz/internal/domain"
)

// CategorizePrompt is the shared prompt used by all categorizer backends.
const CategorizePrompt = `This photo belongs to a shared-housing building listing.
Classify it into exactly one of these categories:
outside, common_areas, amenities, kitchen_bathrooms
Respond with the category name only.`

// Categorizer assigns a building media category to a photo.
type Categorizer interface {
	Categorize(ctx context.Context, r io.Reader, mimeType string) (domain.MediaCategory, error)
}
