package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
)

func TestRedisBridgePublish(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	b := NewRedisBridge(rdb, NewHub(4, nil), "", nil)

	ev := change(9, 100, 2)
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("spots:zone:9", string(payload)).SetVal(1)
	require.NoError(t, b.Publish(context.Background(), ev))

	mock.ExpectPublish("spots:zone:9", string(payload)).SetErr(errors.New("connection refused"))
	err = b.Publish(context.Background(), ev)
	var ce *apperr.ConnectionError
	assert.ErrorAs(t, err, &ce)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBridgeDeliver(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	hub := NewHub(4, nil)
	b := NewRedisBridge(rdb, hub, "", nil)
	sub := hub.Subscribe(9)
	next(t, sub)

	payload, err := json.Marshal(change(9, 100, 3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.deliver(ctx, b.Channel(9), string(payload)))
	env := next(t, sub)
	require.NotNil(t, env.Event)
	assert.Equal(t, int64(3), env.Event.Version())
	require.NotNil(t, env.Event.After)
	assert.Equal(t, int64(100), env.Event.After.ID)

	assert.Error(t, b.deliver(ctx, b.Channel(8), string(payload)))
	assert.Error(t, b.deliver(ctx, "other:9", string(payload)))
	assert.Error(t, b.deliver(ctx, b.Channel(9), "{not json"))
}

func TestRedisBridgeDeliverSkipsRedelivery(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	hub := NewHub(4, nil)
	b := NewRedisBridge(rdb, hub, "", nil)
	sub := hub.Subscribe(9)
	next(t, sub)
	ctx := context.Background()

	newer, err := json.Marshal(change(9, 100, 4))
	require.NoError(t, err)
	older, err := json.Marshal(change(9, 100, 3))
	require.NoError(t, err)

	require.NoError(t, b.deliver(ctx, b.Channel(9), string(newer)))
	require.NoError(t, b.deliver(ctx, b.Channel(9), string(older)))
	require.NoError(t, b.deliver(ctx, b.Channel(9), string(newer)))

	assert.Equal(t, int64(4), next(t, sub).Event.Version())
	select {
	case env := <-sub.C():
		t.Fatalf("redelivered change reached subscriber: %+v", env)
	default:
	}
}
