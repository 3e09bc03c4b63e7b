package switchboard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/storage"
	"github.com/ajitpratap0/feathers-client-go/pkg/transport"
)

func newTransports(t *testing.T) []transport.Transport {
	t.Helper()
	rest, err := transport.NewRESTTransport(transport.DefaultTransportConfig(transport.KindREST))
	require.NoError(t, err)
	socket, err := transport.NewSocketTransport(transport.DefaultTransportConfig(transport.KindSocket))
	require.NoError(t, err)
	return []transport.Transport{socket, rest}
}

func TestNewDefaultsToREST(t *testing.T) {
	sb, err := New(storage.NewMemoryStorage(), newTransports(t))
	require.NoError(t, err)
	defer sb.Close(context.Background())

	assert.Equal(t, transport.KindREST, sb.Selection())
	assert.Equal(t, transport.KindREST, sb.Active().Kind())
	assert.Len(t, sb.All(), 2)
	assert.Equal(t, transport.KindSocket, sb.All()[0].Kind())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(storage.NewMemoryStorage(), nil)
	assert.True(t, svcerrors.IsValidationFailed(err))

	ts := newTransports(t)
	_, err = New(storage.NewMemoryStorage(), []transport.Transport{ts[1], ts[1]})
	assert.True(t, svcerrors.IsValidationFailed(err))

	_, err = New(nil, ts)
	assert.True(t, svcerrors.IsValidationFailed(err))
}

func TestSwitchToPersistsAndNotifies(t *testing.T) {
	store := storage.NewMemoryStorage()
	sb, err := New(store, newTransports(t))
	require.NoError(t, err)
	defer sb.Close(context.Background())

	var got [][2]transport.Kind
	remove := sb.OnSwitch(func(previous, current transport.Kind) {
		got = append(got, [2]transport.Kind{previous, current})
	})

	require.NoError(t, sb.SwitchTo(transport.KindSocket))
	assert.Equal(t, transport.KindSocket, sb.Active().Kind())
	value, ok, err := store.Get(KeySelection)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "socket", value)

	// Switching to the active transport persists but does not notify
	require.NoError(t, sb.SwitchTo(transport.KindSocket))
	assert.Len(t, got, 1)

	remove()
	require.NoError(t, sb.SwitchTo(transport.KindREST))
	assert.Equal(t, [][2]transport.Kind{{transport.KindREST, transport.KindSocket}}, got)

	err = sb.SwitchTo("carrier-pigeon")
	assert.True(t, svcerrors.IsValidationFailed(err))
	assert.Equal(t, transport.KindREST, sb.Selection())
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		want   transport.Kind
	}{
		{"nothing stored", "", transport.KindREST},
		{"socket stored", "socket", transport.KindSocket},
		{"garbage stored", "smoke-signals", transport.KindREST},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			if tt.stored != "" {
				require.NoError(t, store.Set(KeySelection, tt.stored))
			}
			sb, err := New(store, newTransports(t))
			require.NoError(t, err)
			defer sb.Close(context.Background())

			kind, err := sb.Restore()
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, tt.want, sb.Active().Kind())
		})
	}
}

func TestWithDefault(t *testing.T) {
	store := storage.NewMemoryStorage()
	sb, err := New(store, newTransports(t), WithDefault(transport.KindSocket))
	require.NoError(t, err)
	defer sb.Close(context.Background())
	assert.Equal(t, transport.KindSocket, sb.Selection())

	require.NoError(t, store.Set(KeySelection, "rest"))
	kind, err := sb.Restore()
	require.NoError(t, err)
	assert.Equal(t, transport.KindREST, kind)
}

func TestRestoreUnregisteredFallsBack(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(KeySelection, "rest"))

	socket, err := transport.NewSocketTransport(transport.DefaultTransportConfig(transport.KindSocket))
	require.NoError(t, err)
	sb, err := New(store, []transport.Transport{socket})
	require.NoError(t, err)
	defer sb.Close(context.Background())

	kind, err := sb.Restore()
	require.NoError(t, err)
	assert.Equal(t, transport.KindSocket, kind)
}

func TestConcurrentActiveDuringSwitch(t *testing.T) {
	sb, err := New(storage.NewMemoryStorage(), newTransports(t))
	require.NoError(t, err)
	defer sb.Close(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NotNil(t, sb.Active())
			}
		}()
		go func(i int) {
			defer wg.Done()
			kind := transport.Kinds[i%2]
			assert.NoError(t, sb.SwitchTo(kind))
		}(i)
	}
	wg.Wait()
	assert.Contains(t, transport.Kinds, sb.Selection())
}

func TestCloseClosesEveryTransport(t *testing.T) {
	ts := newTransports(t)
	sb, err := New(storage.NewMemoryStorage(), ts)
	require.NoError(t, err)
	require.NoError(t, sb.Close(context.Background()))

	for _, tr := range ts {
		assert.True(t, svcerrors.IsCode(tr.Connect(context.Background()), svcerrors.CodeTransportClosed))
	}
}
