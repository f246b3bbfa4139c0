package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
	"github.com/doubtfire-lms/doubtfire-go/pkg/storage"
)

const (
	tasksPrefix       = "tasks"
	definitionsPrefix = "task_definitions"
)

// YAMLRepository stores each task as one YAML document. Submissions,
// engagements and comments live inside the document, so deleting a task
// also destroys its history.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func taskPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	exists, err := r.storage.Exists(ctx, taskPath(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, taskPath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) List(ctx context.Context, projectID, definitionID string, status task.Status) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}

	sort.Strings(paths)

	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if definitionID != "" && t.DefinitionID != definitionID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		all = append(all, &t)
	}
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *task.Task) error {
	exists, err := r.storage.Exists(ctx, taskPath(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, taskPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, taskPath(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

// YAMLDefinitionRepository stores task definitions, one YAML document each.
type YAMLDefinitionRepository struct {
	storage storage.Storage
}

func NewYAMLDefinitionRepository(s storage.Storage) *YAMLDefinitionRepository {
	return &YAMLDefinitionRepository{storage: s}
}

func definitionPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", definitionsPrefix, id)
}

func (r *YAMLDefinitionRepository) Create(ctx context.Context, d *task.Definition) error {
	exists, err := r.storage.Exists(ctx, definitionPath(d.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task definition", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task definition already exists", nil)
	}
	return r.write(ctx, d)
}

func (r *YAMLDefinitionRepository) Get(ctx context.Context, id string) (*task.Definition, error) {
	data, err := r.storage.Read(ctx, definitionPath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task definition", err)
	}
	var d task.Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task definition: %w", err))
	}
	return &d, nil
}

func (r *YAMLDefinitionRepository) List(ctx context.Context, unitCode string) ([]*task.Definition, error) {
	paths, err := r.storage.List(ctx, definitionsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("task definitions", err)
	}

	sort.Strings(paths)

	var all []*task.Definition
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var d task.Definition
		if err := yaml.Unmarshal(data, &d); err != nil {
			continue
		}
		if unitCode != "" && d.UnitCode != unitCode {
			continue
		}
		all = append(all, &d)
	}
	// Stable portfolio ordering: definitions sort by target date.
	sort.Slice(all, func(i, j int) bool {
		return all[i].TargetDate.Before(all[j].TargetDate)
	})
	return all, nil
}

func (r *YAMLDefinitionRepository) Update(ctx context.Context, d *task.Definition) error {
	exists, err := r.storage.Exists(ctx, definitionPath(d.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task definition", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "task definition not found", nil)
	}
	return r.write(ctx, d)
}

func (r *YAMLDefinitionRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, definitionPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("task definition", err)
	}
	return nil
}

func (r *YAMLDefinitionRepository) write(ctx context.Context, d *task.Definition) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task definition: %w", err))
	}
	if err := r.storage.Write(ctx, definitionPath(d.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task definition", err)
	}
	return nil
}
