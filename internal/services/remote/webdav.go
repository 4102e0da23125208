package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/studio-b12/gowebdav"
)

const (
	partSuffix = ".part"
	metaSuffix = ".meta.json"
)

// WebDAV stores objects as files below the server root. Uploads go to a
// .part file that is renamed into place, and metadata lives in a .meta.json
// sidecar written before the object is committed.
type WebDAV struct {
	client *gowebdav.Client
	bps    int64
	logger zerolog.Logger
}

func newWebDAV(b models.WebDAVBackend, o options) (*WebDAV, error) {
	if strings.TrimSpace(b.Endpoint) == "" {
		return nil, &models.CredentialError{Backend: models.BackendWebDAV, Field: "endpoint", Reason: "empty"}
	}
	c := gowebdav.NewClient(b.Endpoint, b.Username, b.Password)
	c.SetTimeout(o.httpTimeout)

	return &WebDAV{client: c, bps: o.bandwidthLimit, logger: o.logger}, nil
}

func davPath(key string) string {
	return "/" + key
}

// Put implements Adapter.
func (w *WebDAV) Put(ctx context.Context, key string, body []byte, meta models.ObjectMeta) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.client.MkdirAll(path.Dir(davPath(key)), 0o755); err != nil && !isStatus(err, http.StatusMethodNotAllowed) {
		return w.classify("mkdir", key, err)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata of %s: %w", key, err)
	}
	if err := w.client.Write(davPath(key)+metaSuffix, sidecar, 0o644); err != nil {
		return w.classify("put", key, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	part := davPath(key) + partSuffix
	if err := w.client.WriteStream(part, uploadBody(body, w.bps), 0o644); err != nil {
		return w.classify("put", key, err)
	}
	if err := w.client.Rename(part, davPath(key), true); err != nil {
		return w.classify("put", key, err)
	}
	return nil
}

// Get implements Adapter. A missing sidecar yields empty metadata.
func (w *WebDAV) Get(ctx context.Context, key string) ([]byte, models.ObjectMeta, error) {
	var meta models.ObjectMeta
	key, err := cleanKey(key)
	if err != nil {
		return nil, meta, err
	}
	if err := ctx.Err(); err != nil {
		return nil, meta, err
	}

	body, err := w.client.Read(davPath(key))
	if err != nil {
		return nil, meta, w.classify("get", key, err)
	}

	meta, err = w.readMeta("get", key)
	if err != nil {
		return nil, meta, err
	}
	return body, meta, nil
}

// Stat implements Adapter.
func (w *WebDAV) Stat(ctx context.Context, key string) (models.ObjectMeta, error) {
	key, err := cleanKey(key)
	if err != nil {
		return models.ObjectMeta{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.ObjectMeta{}, err
	}

	if _, err := w.client.Stat(davPath(key)); err != nil {
		return models.ObjectMeta{}, w.classify("stat", key, err)
	}
	return w.readMeta("stat", key)
}

// readMeta loads the sidecar of key. A missing or unreadable sidecar yields
// empty metadata.
func (w *WebDAV) readMeta(op, key string) (models.ObjectMeta, error) {
	var meta models.ObjectMeta
	sidecar, err := w.client.Read(davPath(key) + metaSuffix)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(sidecar, &meta); jerr != nil {
			w.logger.Warn().Err(jerr).Str("key", key).Msg("ignoring unreadable metadata sidecar")
			meta = models.ObjectMeta{}
		}
	case isStatus(err, http.StatusNotFound):
	default:
		return meta, w.classify(op, key+metaSuffix, err)
	}
	return meta, nil
}

// List implements Adapter. It walks the folder tree below prefix.
func (w *WebDAV) List(ctx context.Context, prefix string) ([]models.RemoteObject, error) {
	dir := davPath(strings.TrimSuffix(prefix, "/"))
	var out []models.RemoteObject
	if err := w.walk(ctx, dir, &out); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (w *WebDAV) walk(ctx context.Context, dir string, out *[]models.RemoteObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := w.client.ReadDir(dir)
	if err != nil {
		return w.classify("list", strings.TrimPrefix(dir, "/"), err)
	}

	for _, fi := range infos {
		p := path.Join(dir, fi.Name())
		if fi.IsDir() {
			if err := w.walk(ctx, p, out); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(fi.Name(), partSuffix) || strings.HasSuffix(fi.Name(), metaSuffix) {
			continue
		}
		*out = append(*out, models.RemoteObject{Key: strings.TrimPrefix(p, "/"), Size: fi.Size()})
	}
	return nil
}

// Delete implements Adapter.
func (w *WebDAV) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The client reports success for missing paths, so look first.
	if _, err := w.client.Stat(davPath(key)); err != nil {
		return w.classify("delete", key, err)
	}
	if err := w.client.Remove(davPath(key)); err != nil {
		return w.classify("delete", key, err)
	}
	if err := w.client.Remove(davPath(key) + metaSuffix); err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("failed to remove metadata sidecar")
	}
	return nil
}

// Check implements Adapter.
func (w *WebDAV) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.Connect(); err != nil {
		return w.classify("check", "", err)
	}
	return nil
}

func statusOf(err error) (int, bool) {
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}

func isStatus(err error, code int) bool {
	status, ok := statusOf(err)
	return ok && status == code
}

// classify maps client errors onto the error taxonomy.
func (w *WebDAV) classify(op, key string, err error) error {
	if isContextErr(err) {
		return err
	}

	status, ok := statusOf(err)
	if !ok {
		// No HTTP status: the request never completed.
		return &models.TransientNetworkError{Backend: models.BackendWebDAV, Op: op, Key: key, Err: err}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &models.AuthError{Backend: models.BackendWebDAV, Err: err}
	case status == http.StatusNotFound:
		return &models.NotFoundError{Key: key}
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return &models.TransientNetworkError{Backend: models.BackendWebDAV, Op: op, Key: key, Err: err}
	default:
		return fmt.Errorf("webdav %s %s: %w", op, key, err)
	}
}
