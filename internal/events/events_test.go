package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalroastery/weblounge-sub005/internal/content"
	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
	"github.com/digitalroastery/weblounge-sub005/pkg/kafka"
)

const testID = "4bb19980-8f98-4873-a813-000000000001"

type fakeProducer struct {
	fails     int
	published []kafka.Event
	closed    bool
}

func (p *fakeProducer) Publish(_ context.Context, events ...kafka.Event) error {
	if p.fails > 0 {
		p.fails--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, events...)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func fastPublisher(p producer) *KafkaPublisher {
	pub := newKafkaPublisher(p, nil)
	pub.retry.InitialDelay = time.Millisecond
	pub.retry.MaxDelay = time.Millisecond
	return pub
}

func TestKafkaPublisherRetries(t *testing.T) {
	fp := &fakeProducer{fails: 2}
	pub := fastPublisher(fp)

	event := NewIndexEvent(TypeAdd, content.NewURI(content.TypePage, "demo", "/news", testID, content.Live))
	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, fp.published, 1)
	assert.Equal(t, testID, fp.published[0].Key)
	assert.Equal(t, "add", fp.published[0].Type)
	assert.Equal(t, event, fp.published[0].Value)

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	fp := &fakeProducer{fails: 10}
	pub := fastPublisher(fp)
	err := pub.Publish(context.Background(), IndexEvent{Type: TypeDelete, ID: testID})
	assert.Error(t, err)
	assert.Empty(t, fp.published)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), IndexEvent{Type: TypeClear}))
	assert.NoError(t, p.Close())
}

type call struct {
	action  Action
	uri     content.ResourceURI
	newPath string
}

type fakeRepository struct {
	calls []call
	err   error
}

func (r *fakeRepository) Add(_ context.Context, res *content.Resource) (content.ResourceURI, error) {
	r.calls = append(r.calls, call{action: ActionAdd, uri: res.URI})
	return res.URI, r.err
}

func (r *fakeRepository) Update(_ context.Context, res *content.Resource) error {
	r.calls = append(r.calls, call{action: ActionUpdate, uri: res.URI})
	return r.err
}

func (r *fakeRepository) Delete(_ context.Context, uri content.ResourceURI) (bool, error) {
	r.calls = append(r.calls, call{action: ActionDelete, uri: uri})
	return r.err == nil, r.err
}

func (r *fakeRepository) Move(_ context.Context, uri content.ResourceURI, newPath string) error {
	r.calls = append(r.calls, call{action: ActionMove, uri: uri, newPath: newPath})
	return r.err
}

func encode(t *testing.T, event ResourceEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func TestHandleResourceEvents(t *testing.T) {
	repo := &fakeRepository{}
	handle := HandleResourceEvents(repo)
	ctx := context.Background()
	uri := content.NewURI(content.TypePage, "demo", "/news", testID, content.Live)

	require.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionAdd, Resource: &content.Resource{URI: uri}})))
	require.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionUpdate, Resource: &content.Resource{URI: uri}})))
	require.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionMove, URI: uri, NewPath: "/archive/news"})))
	require.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionDelete, URI: uri})))

	require.Len(t, repo.calls, 4)
	assert.Equal(t, ActionAdd, repo.calls[0].action)
	assert.Equal(t, ActionUpdate, repo.calls[1].action)
	assert.Equal(t, call{action: ActionMove, uri: uri, newPath: "/archive/news"}, repo.calls[2])
	assert.Equal(t, call{action: ActionDelete, uri: uri}, repo.calls[3])
}

func TestHandleResourceEventsSkipsInvalid(t *testing.T) {
	repo := &fakeRepository{}
	handle := HandleResourceEvents(repo)
	ctx := context.Background()

	assert.NoError(t, handle(ctx, []byte("k"), []byte("{")))
	assert.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: "publish"})))
	assert.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionAdd})))
	assert.NoError(t, handle(ctx, nil, encode(t, ResourceEvent{Action: ActionMove})))
	assert.Empty(t, repo.calls)
}

func TestHandleResourceEventsReturnsIndexFailures(t *testing.T) {
	repo := &fakeRepository{err: apperrors.ErrBackend}
	handle := HandleResourceEvents(repo)
	uri := content.NewURI(content.TypePage, "", "/news", testID, content.Live)
	err := handle(context.Background(), nil, encode(t, ResourceEvent{Action: ActionDelete, URI: uri}))
	assert.ErrorIs(t, err, apperrors.ErrBackend)
}
