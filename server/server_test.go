package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivi/kivi"
	"github.com/kivi/kivi/client"
)

func newTestServer(t *testing.T, opts ...kivi.Option) *Server {
	t.Helper()

	db, err := kivi.Open(t.TempDir(), opts...)
	require.Nil(t, err)

	srv := New(db, "127.0.0.1:0", "127.0.0.1:0")
	require.Nil(t, srv.Listen())
	go func() {
		_ = srv.Serve()
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = db.Close()
	})
	return srv
}

func newTestClient(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Dial(srv.Addr().String())
	require.Nil(t, err)
	return c
}

func TestServer_SetGetRemove(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	defer c.Close()

	_, found, err := c.Get([]byte("key"))
	assert.Nil(t, err)
	assert.False(t, found)

	assert.Nil(t, c.Set([]byte("key"), []byte("value")))

	value, found, err := c.Get([]byte("key"))
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", string(value))

	assert.Nil(t, c.Remove([]byte("key")))

	_, found, err = c.Get([]byte("key"))
	assert.Nil(t, err)
	assert.False(t, found)

	assert.Equal(t, client.ErrKeyNotFound, c.Remove([]byte("key")))
}

func TestServer_EmptyValue(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	defer c.Close()

	assert.Nil(t, c.Set([]byte("key"), nil))

	value, found, err := c.Get([]byte("key"))
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Empty(t, value)
}

func TestServer_SequentialRequestsPerConnection(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	defer c.Close()

	for i := 0; i < 100; i++ {
		assert.Nil(t, c.Set([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))))
	}
	for i := 0; i < 100; i++ {
		value, found, err := c.Get([]byte(fmt.Sprintf("key-%d", i)))
		assert.Nil(t, err)
		assert.True(t, found)
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(value))
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv := newTestServer(t)

	const clients = 8
	const perClient = 25

	var wg sync.WaitGroup
	for n := 0; n < clients; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := client.Dial(srv.Addr().String())
			if !assert.Nil(t, err) {
				return
			}
			defer c.Close()
			for i := 0; i < perClient; i++ {
				key := []byte(fmt.Sprintf("c%d-key-%d", n, i))
				assert.Nil(t, c.Set(key, []byte(fmt.Sprintf("c%d-value-%d", n, i))))
			}
		}(n)
	}
	wg.Wait()

	c := newTestClient(t, srv)
	defer c.Close()
	for n := 0; n < clients; n++ {
		for i := 0; i < perClient; i++ {
			value, found, err := c.Get([]byte(fmt.Sprintf("c%d-key-%d", n, i)))
			assert.Nil(t, err)
			assert.True(t, found)
			assert.Equal(t, fmt.Sprintf("c%d-value-%d", n, i), string(value))
		}
	}
}

func TestServer_MalformedFrameDropsConnection(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xff, 0x01, 'k'})
	require.Nil(t, err)

	// the server must close the connection rather than resynchronize
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	// other connections are unaffected
	c := newTestClient(t, srv)
	defer c.Close()
	assert.Nil(t, c.Set([]byte("key"), []byte("value")))
}

func TestServer_AdminStats(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	defer c.Close()

	assert.Nil(t, c.Set([]byte("key"), []byte("value")))

	resp, err := http.Get(fmt.Sprintf("http://%s/stats", srv.AdminAddr()))
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats kivi.Stats
	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.KeyCount)
	assert.Greater(t, stats.DiskSize, int64(0))
}

func TestServer_AdminMetrics(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	defer c.Close()

	assert.Nil(t, c.Set([]byte("key"), []byte("value")))
	_, _, err := c.Get([]byte("key"))
	assert.Nil(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.AdminAddr()))
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Nil(t, err)
	assert.Contains(t, string(body), "kivi_requests_total")
	assert.Contains(t, string(body), "kivi_keys_total")
}
