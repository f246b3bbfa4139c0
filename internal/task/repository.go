package task

import "context"

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, projectID, definitionID string, status Status) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}

type DefinitionRepository interface {
	Create(ctx context.Context, d *Definition) error
	Get(ctx context.Context, id string) (*Definition, error)
	List(ctx context.Context, unitCode string) ([]*Definition, error)
	Update(ctx context.Context, d *Definition) error
	Delete(ctx context.Context, id string) error
}

// ProjectHooks is the slice of the project collaborator the lifecycle
// needs: marking the project started and recomputing its dashboard stats
// after a transition.
type ProjectHooks interface {
	Start(ctx context.Context, projectID string) error
	RecomputeStats(ctx context.Context, projectID string) error
}
