// package models defines the data model for the command scheduler and playlist sync engine
package models

import (
	"context"
	"time"
)

// Validator is implemented by every persisted entity.
type Validator interface {
	Validate() error // Validate checks the entity's data and returns an error describing the first problem
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific entity types.
type Repository[T any] interface {
	Create(ctx context.Context, model T) error                      // Create inserts a new entity
	Get(ctx context.Context, id string) (T, error)                  // Get retrieves an entity by its ID
	Update(ctx context.Context, model T) error                      // Update modifies an existing entity
	Delete(ctx context.Context, id string) error                    // Delete removes an entity by its ID
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves entities matching the given criteria
}

// Clock returns the current instant. Tests substitute a fixed clock.
type Clock func() time.Time
