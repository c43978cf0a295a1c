package ports

import "github.com/doukyrie/AquaRegulator-server/internal/domain"

// Repository loads historical telemetry rows. Query failures yield an empty
// slice; the implementation reports them to the health registry.
type Repository interface {
	// LoadEnvironmental returns up to limit of the most recent environmental
	// rows in ascending time order.
	LoadEnvironmental(limit int) []domain.Reading

	// LoadSoilAndAir returns up to limit of the most recent soil/air quality
	// rows in ascending time order.
	LoadSoilAndAir(limit int) []domain.Reading

	Close() error
}
