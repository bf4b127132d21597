package protocol

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/utils"
)

func testSwitch() *Switch {
	return NewSwitch(utils.NewDefaultLogger(slog.LevelError))
}

func TestSwitchRequestResponse(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	server := sw.NewEndpoint()
	client := sw.NewEndpoint()

	require.NoError(t, server.RegisterHandler(names.Parse("/srv"), func(_ context.Context, req *Request) (*Data, error) {
		return &Data{Name: req.Name, FinalSeg: NoFinalSeg, Payload: []byte("pong")}, nil
	}))

	d, err := client.SendRequest(context.Background(), names.Parse("/srv/ping"), nil, RequestOptions{Lifetime: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), d.Payload)
}

func TestSwitchNoRoute(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	client := sw.NewEndpoint()

	_, err := client.SendRequest(context.Background(), names.Parse("/nowhere"), nil, RequestOptions{Lifetime: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestSwitchSilentHandlerExpires(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	server := sw.NewEndpoint()
	client := sw.NewEndpoint()

	var calls atomic.Int32
	require.NoError(t, server.RegisterHandler(names.Parse("/quiet"), func(_ context.Context, _ *Request) (*Data, error) {
		calls.Add(1)
		return nil, nil
	}))

	_, err := client.SendRequest(context.Background(), names.Parse("/quiet/x"), nil, RequestOptions{
		Lifetime: 50 * time.Millisecond,
		Retries:  2,
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSwitchSkipsOrigin(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	ep := sw.NewEndpoint()

	require.NoError(t, ep.RegisterHandler(names.Parse("/self"), func(_ context.Context, _ *Request) (*Data, error) {
		t.Error("request looped back to its origin")
		return nil, nil
	}))

	_, err := ep.SendRequest(context.Background(), names.Parse("/self/x"), nil, RequestOptions{Lifetime: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestSwitchPrefixRouting(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	server := sw.NewEndpoint()
	client := sw.NewEndpoint()

	require.NoError(t, server.RegisterHandler(names.Parse("/a"), func(_ context.Context, req *Request) (*Data, error) {
		return &Data{Name: req.Name, FinalSeg: NoFinalSeg, Payload: []byte("a")}, nil
	}))

	d, err := client.SendRequest(context.Background(), names.Parse("/a/b/c/d"), nil, RequestOptions{Lifetime: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), d.Payload)
}

func TestSwitchUnregister(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	server := sw.NewEndpoint()
	client := sw.NewEndpoint()

	h := func(_ context.Context, req *Request) (*Data, error) {
		return &Data{Name: req.Name, FinalSeg: NoFinalSeg}, nil
	}
	require.NoError(t, server.RegisterHandler(names.Parse("/a"), h))
	server.UnregisterHandler(names.Parse("/a"))

	_, err := client.SendRequest(context.Background(), names.Parse("/a/x"), nil, RequestOptions{Lifetime: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestSwitchClosedEndpoint(t *testing.T) {
	sw := testSwitch()
	defer sw.Close()
	ep := sw.NewEndpoint()
	require.NoError(t, ep.Close())

	_, err := ep.SendRequest(context.Background(), names.Parse("/x"), nil, RequestOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
