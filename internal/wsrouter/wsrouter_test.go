package wsrouter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/server/internal/wsrouter"
)

type fakeConn struct {
	sent [][]byte
}

func (c *fakeConn) Send(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func TestDispatch_RoutesByType(t *testing.T) {
	r := wsrouter.New()
	var gotType string
	r.Handle("ping", func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
		gotType = env.Type
		return nil
	})

	err := r.Dispatch(context.Background(), &fakeConn{}, []byte(`{"type":"ping"}`))

	require.NoError(t, err)
	assert.Equal(t, "ping", gotType)
}

func TestDispatch_UnknownTypeReturnsErrUnknownType(t *testing.T) {
	r := wsrouter.New()

	err := r.Dispatch(context.Background(), &fakeConn{}, []byte(`{"type":"bogus"}`))

	var unknown wsrouter.ErrUnknownType
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Type)
}

func TestDispatch_MalformedJSONReturnsError(t *testing.T) {
	r := wsrouter.New()
	err := r.Dispatch(context.Background(), &fakeConn{}, []byte(`not json`))
	assert.Error(t, err)
}

func TestDispatch_PayloadCarriesRawEnvelope(t *testing.T) {
	r := wsrouter.New()
	var gotPayload []byte
	r.Handle("echo", func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
		gotPayload = env.Payload
		return nil
	})

	raw := `{"type":"echo","value":42}`
	require.NoError(t, r.Dispatch(context.Background(), &fakeConn{}, []byte(raw)))

	assert.JSONEq(t, raw, string(gotPayload))
}

func TestUse_WrapsHandlersInRegistrationOrder(t *testing.T) {
	r := wsrouter.New()
	var order []string
	mw := func(name string) wsrouter.Middleware {
		return func(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
			return func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
				order = append(order, name+":before")
				err := next(ctx, conn, env)
				order = append(order, name+":after")
				return err
			}
		}
	}
	r.Use(mw("outer"))
	r.Use(mw("inner"))
	r.Handle("ping", func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
		order = append(order, "handler")
		return nil
	})

	require.NoError(t, r.Dispatch(context.Background(), &fakeConn{}, []byte(`{"type":"ping"}`)))

	assert.Equal(t, []string{
		"outer:before", "inner:before", "handler", "inner:after", "outer:after",
	}, order)
}

func TestUse_MiddlewareCanShortCircuit(t *testing.T) {
	r := wsrouter.New()
	sentinel := errors.New("blocked")
	r.Use(func(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
		return func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
			return sentinel
		}
	})
	called := false
	r.Handle("ping", func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
		called = true
		return nil
	})

	err := r.Dispatch(context.Background(), &fakeConn{}, []byte(`{"type":"ping"}`))

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, called)
}

func TestClientIDFromCtx_RoundTrips(t *testing.T) {
	ctx := wsrouter.WithClientID(context.Background(), "c1")
	assert.Equal(t, "c1", wsrouter.ClientIDFromCtx(ctx))
}

func TestMessageTypeFromCtx_RoundTrips(t *testing.T) {
	ctx := wsrouter.WithMessageType(context.Background(), "ping")
	assert.Equal(t, "ping", wsrouter.MessageTypeFromCtx(ctx))
}

func TestClientIDFromCtx_EmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", wsrouter.ClientIDFromCtx(context.Background()))
}
