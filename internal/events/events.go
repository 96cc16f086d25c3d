// Package events defines the change feed of the repository index: the
// IndexEvent published after every successful mutation and the
// ResourceEvent consumed from the content repository.
package events

import (
	"context"
	"time"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
)

// Type names the mutation an IndexEvent reports.
type Type string

const (
	TypeAdd    Type = "add"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
	TypeMove   Type = "move"
	TypeClear  Type = "clear"
)

// IndexEvent is published after the index applied a mutation.
type IndexEvent struct {
	Type         Type            `json:"type"`
	ID           string          `json:"id,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	Site         string          `json:"site,omitempty"`
	Path         string          `json:"path,omitempty"`
	OldPath      string          `json:"old_path,omitempty"`
	Version      content.Version `json:"version"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewIndexEvent builds an event for uri stamped with the current time.
func NewIndexEvent(typ Type, uri content.ResourceURI) IndexEvent {
	return IndexEvent{
		Type:         typ,
		ID:           uri.ID,
		ResourceType: uri.Type,
		Site:         uri.Site,
		Path:         uri.Path,
		Version:      uri.Version,
		Timestamp:    time.Now().UTC(),
	}
}

// Publisher delivers index events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, event IndexEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, IndexEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
