package events

import (
	"context"
	"fmt"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/kafka"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
)

// Action names the change a ResourceEvent reports.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
)

// ResourceEvent is emitted by the content repository whenever a resource
// revision changes. Delete and move events may omit the resource body and
// carry only its URI.
type ResourceEvent struct {
	Action   Action              `json:"action"`
	URI      content.ResourceURI `json:"uri"`
	Resource *content.Resource   `json:"resource,omitempty"`
	NewPath  string              `json:"new_path,omitempty"`
}

// Repository is the part of the repository index the consumer drives.
type Repository interface {
	Add(ctx context.Context, res *content.Resource) (content.ResourceURI, error)
	Update(ctx context.Context, res *content.Resource) error
	Delete(ctx context.Context, uri content.ResourceURI) (bool, error)
	Move(ctx context.Context, uri content.ResourceURI, newPath string) error
}

// HandleResourceEvents returns a Kafka MessageHandler that applies resource
// events to repo. Undecodable or invalid events are logged and skipped;
// index failures are returned so the message is redelivered.
func HandleResourceEvents(repo Repository) kafka.MessageHandler {
	log := logger.WithComponent("resource-events")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ResourceEvent](value)
		if err != nil {
			log.Error("failed to decode resource event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		err = apply(ctx, repo, event)
		if apperrors.Is(err, apperrors.ErrInvalidInput) {
			log.Warn("skipping invalid resource event",
				"action", event.Action,
				"key", string(key),
				"error", err,
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("applying %s event for %s: %w", event.Action, event.URI, err)
		}
		log.Debug("resource event applied", "action", event.Action, "uri", event.URI.String())
		return nil
	}
}

func apply(ctx context.Context, repo Repository, event ResourceEvent) error {
	const op = "events.apply"
	uri := event.URI
	if event.Resource != nil && uri.ID == "" && uri.Path == "" {
		uri = event.Resource.URI
	}
	switch event.Action {
	case ActionAdd, ActionUpdate:
		if event.Resource == nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, op, "%s event without resource", event.Action)
		}
		if event.Action == ActionAdd {
			_, err := repo.Add(ctx, event.Resource)
			return err
		}
		return repo.Update(ctx, event.Resource)
	case ActionDelete:
		_, err := repo.Delete(ctx, uri)
		return err
	case ActionMove:
		if event.NewPath == "" {
			return apperrors.New(apperrors.ErrInvalidInput, op, "move event without new path")
		}
		return repo.Move(ctx, uri, event.NewPath)
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, op, "unknown action %q", event.Action)
	}
}
