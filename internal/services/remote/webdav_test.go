package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studio-b12/gowebdav"
	"golang.org/x/net/webdav"
)

const (
	davUser = "alice"
	davPass = "s3cret"
)

// newDAVServer serves an in-memory WebDAV tree behind basic auth. Requests
// without credentials get a challenge; wrong credentials are forbidden.
func newDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	dav := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="savekeeper"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if user != davUser || pass != davPass {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		dav.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWebDAV(t *testing.T, endpoint, password string) *WebDAV {
	t.Helper()
	w, err := newWebDAV(models.WebDAVBackend{Endpoint: endpoint, Username: davUser, Password: password},
		options{logger: testLogger()})
	require.NoError(t, err)
	return w
}

func TestWebDAV_PutGetListDelete(t *testing.T) {
	srv := newDAVServer(t)
	w := newTestWebDAV(t, srv.URL, davPass)
	ctx := context.Background()
	require.NoError(t, w.Check(ctx))

	key := "game-save-manager/Foo/2024-05-01T12:00:00Z.zip"
	meta := models.ObjectMeta{
		Describe:  "存档 before boss",
		Checksum:  "abc123",
		CreatedAt: "2024-05-01T12:00:00.123456789Z",
		Origin:    "pc-1",
	}

	require.NoError(t, w.Put(ctx, key, []byte("archive-1"), meta))
	require.NoError(t, w.Put(ctx, "game-save-manager/Bar/2024-06-01T00:00:00Z.zip", []byte("archive-22"), models.ObjectMeta{}))

	body, got, err := w.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "archive-1", string(body))
	assert.Equal(t, meta, got)

	stat, err := w.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, meta, stat)

	objs, err := w.List(ctx, "game-save-manager/Foo/")
	require.NoError(t, err)
	require.Len(t, objs, 1, "sidecars and staging files are hidden")
	assert.Equal(t, models.RemoteObject{Key: key, Size: 9}, objs[0])

	all, err := w.List(ctx, "game-save-manager/")
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, o := range all {
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"game-save-manager/Bar/2024-06-01T00:00:00Z.zip", key}, keys)

	require.NoError(t, w.Delete(ctx, key))
	_, _, err = w.Get(ctx, key)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = w.Stat(ctx, key)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, w.Delete(ctx, key), models.ErrNotFound)
}

func TestWebDAV_PutOverwrites(t *testing.T) {
	srv := newDAVServer(t)
	w := newTestWebDAV(t, srv.URL, davPass)
	ctx := context.Background()
	require.NoError(t, w.Check(ctx))

	key := "root/Foo/2024-05-01T12:00:00Z.zip"
	require.NoError(t, w.Put(ctx, key, []byte("old"), models.ObjectMeta{Checksum: "1"}))
	require.NoError(t, w.Put(ctx, key, []byte("new"), models.ObjectMeta{Checksum: "2"}))

	body, meta, err := w.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))
	assert.Equal(t, "2", meta.Checksum)
}

func TestWebDAV_Throttled(t *testing.T) {
	srv := newDAVServer(t)
	w := newTestWebDAV(t, srv.URL, davPass)
	w.bps = 1 << 20
	ctx := context.Background()
	require.NoError(t, w.Check(ctx))

	require.NoError(t, w.Put(ctx, "root/Foo/a.zip", []byte("payload"), models.ObjectMeta{}))
	body, _, err := w.Get(ctx, "root/Foo/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestWebDAV_ListMissingPrefixIsEmpty(t *testing.T) {
	srv := newDAVServer(t)
	w := newTestWebDAV(t, srv.URL, davPass)
	require.NoError(t, w.Check(context.Background()))

	objs, err := w.List(context.Background(), "nothing/here/")

	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestWebDAV_WrongPassword(t *testing.T) {
	srv := newDAVServer(t)
	w := newTestWebDAV(t, srv.URL, "wrong")

	err := w.Check(context.Background())

	var authErr *models.AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, models.BackendWebDAV, authErr.Backend)
	assert.True(t, models.IsFatalBackend(err))
}

func TestWebDAV_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	w := newTestWebDAV(t, srv.URL, davPass)

	err := w.Check(context.Background())

	assert.True(t, models.IsTransient(err), "got %v", err)
}

func TestWebDAV_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	w := newTestWebDAV(t, url, davPass)

	_, err := w.List(context.Background(), "root/")

	assert.True(t, models.IsTransient(err), "got %v", err)
}

func TestWebDAV_CancelledContext(t *testing.T) {
	w := newTestWebDAV(t, "http://127.0.0.1:1", davPass)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Put(ctx, "root/a.zip", nil, models.ObjectMeta{}), context.Canceled)
	_, _, err := w.Get(ctx, "root/a.zip")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = w.List(ctx, "root/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebDAV_Classify(t *testing.T) {
	w := newTestWebDAV(t, "http://127.0.0.1:1", davPass)
	status := func(code int) error {
		return &os.PathError{Op: "ReadStream", Path: "/k", Err: gowebdav.StatusError{Status: code}}
	}

	var authErr *models.AuthError
	assert.True(t, errors.As(w.classify("get", "k", status(http.StatusUnauthorized)), &authErr))
	assert.True(t, errors.As(w.classify("get", "k", status(http.StatusForbidden)), &authErr))
	assert.ErrorIs(t, w.classify("get", "k", status(http.StatusNotFound)), models.ErrNotFound)
	assert.True(t, models.IsTransient(w.classify("get", "k", status(http.StatusBadGateway))))
	assert.True(t, models.IsTransient(w.classify("get", "k", status(http.StatusTooManyRequests))))
	assert.True(t, models.IsTransient(w.classify("get", "k", errors.New("connection reset"))))

	other := w.classify("get", "k", status(http.StatusConflict))
	assert.False(t, models.IsTransient(other))
	assert.False(t, models.IsFatalBackend(other))
	assert.ErrorIs(t, w.classify("get", "k", context.DeadlineExceeded), context.DeadlineExceeded)
}
