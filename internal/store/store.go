// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/planforge/internal/domain"
)

// Repository defines the interface for persisting approved plans and the
// agents created from them.
type Repository interface {
	// ApprovePlan persists a plan and its agent atomically.
	ApprovePlan(ctx context.Context, plan *domain.Plan, agent *domain.Agent) error

	// GetPlan retrieves a plan by id. Returns (nil, nil) when absent.
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)

	// ListPlans retrieves a user's plans, newest first.
	ListPlans(ctx context.Context, userID string) ([]*domain.Plan, error)

	// GetAgent retrieves an agent by id. Returns (nil, nil) when absent.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// ListAgents retrieves a user's agents, newest first.
	ListAgents(ctx context.Context, userID string) ([]*domain.Agent, error)

	// Ping verifies database connectivity and returns an error if the
	// database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
