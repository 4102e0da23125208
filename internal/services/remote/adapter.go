// Package remote talks to the cloud backends that backups are synced with.
// Every backend is reached through the same Adapter, so the sync engine never
// knows which one is configured.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/fgeck/savekeeper/internal/metrics"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog"
)

// Adapter is the capability set every backend offers. Keys are slash
// separated and never start with a slash. A committed key is always complete:
// readers never observe a partially written object.
type Adapter interface {
	Put(ctx context.Context, key string, body []byte, meta models.ObjectMeta) error
	Get(ctx context.Context, key string) ([]byte, models.ObjectMeta, error)
	Stat(ctx context.Context, key string) (models.ObjectMeta, error)
	List(ctx context.Context, prefix string) ([]models.RemoteObject, error)
	Delete(ctx context.Context, key string) error
	Check(ctx context.Context) error
}

type options struct {
	logger         zerolog.Logger
	bandwidthLimit int64
	httpTimeout    time.Duration
}

// Option configures an adapter.
type Option func(*options)

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBandwidthLimit throttles uploads to bps bytes per second. Zero disables
// throttling.
func WithBandwidthLimit(bps int64) Option {
	return func(o *options) {
		o.bandwidthLimit = bps
	}
}

// WithTimeout bounds every request of the WebDAV client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.httpTimeout = d
	}
}

// NewAdapter builds the adapter for backend. Construction never performs
// network I/O; call Check to verify connectivity.
func NewAdapter(backend models.Backend, opts ...Option) (Adapter, error) {
	o := options{logger: zerolog.Nop(), httpTimeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		a   Adapter
		err error
	)
	switch b := backend.(type) {
	case nil, models.DisabledBackend:
		return Disabled{}, nil
	case models.WebDAVBackend:
		a, err = newWebDAV(b, o)
	case models.S3Backend:
		a, err = newS3(b, o)
	default:
		return nil, fmt.Errorf("unsupported backend %T", backend)
	}
	if err != nil {
		return nil, err
	}

	return &instrumented{kind: backend.Kind(), next: a, logger: o.logger}, nil
}

// instrumented records metrics and debug logs around every adapter call.
type instrumented struct {
	kind   models.BackendKind
	next   Adapter
	logger zerolog.Logger
}

func (i *instrumented) observe(op, key string, start time.Time, err error) {
	metrics.RecordRemoteOperation(string(i.kind), op, time.Since(start), err == nil)
	ev := i.logger.Debug()
	if err != nil {
		ev = i.logger.Debug().Err(err)
	}
	ev.Str("backend", string(i.kind)).
		Str("op", op).
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("remote operation")
}

func (i *instrumented) Put(ctx context.Context, key string, body []byte, meta models.ObjectMeta) error {
	start := time.Now()
	err := i.next.Put(ctx, key, body, meta)
	i.observe("put", key, start, err)
	return err
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, models.ObjectMeta, error) {
	start := time.Now()
	body, meta, err := i.next.Get(ctx, key)
	i.observe("get", key, start, err)
	return body, meta, err
}

func (i *instrumented) Stat(ctx context.Context, key string) (models.ObjectMeta, error) {
	start := time.Now()
	meta, err := i.next.Stat(ctx, key)
	i.observe("stat", key, start, err)
	return meta, err
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]models.RemoteObject, error) {
	start := time.Now()
	objs, err := i.next.List(ctx, prefix)
	i.observe("list", prefix, start, err)
	return objs, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", key, start, err)
	return err
}

func (i *instrumented) Check(ctx context.Context) error {
	start := time.Now()
	err := i.next.Check(ctx)
	i.observe("check", "", start, err)
	return err
}

// RootPrefix is the remote folder holding every game, with a trailing slash.
// An empty root maps to the bucket or server root.
func RootPrefix(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// GamePrefix is the remote folder of a game, with a trailing slash.
func GamePrefix(root, game string) string {
	return RootPrefix(root) + game + "/"
}

// ObjectKey is the remote key of a backup. The date is kept verbatim so the
// key maps back to it exactly.
func ObjectKey(root, game, date string) string {
	return GamePrefix(root, game) + date + models.ArchiveExt
}

// CatalogKey is the remote key of the shared game definitions.
func CatalogKey(root string) string {
	return RootPrefix(root) + models.CatalogFileName
}

// ParseObjectKey returns the backup date encoded in a key below prefix.
// Keys in nested folders, without the archive extension or whose name is not
// a backup date are not backups.
func ParseObjectKey(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	date, ok := strings.CutSuffix(rest, models.ArchiveExt)
	if !ok {
		return "", false
	}
	if _, ok := models.ParseBackupDate(date); !ok {
		return "", false
	}
	return date, true
}

// GameFromKey returns the game folder a key lives in.
func GameFromKey(root, key string) (string, bool) {
	root = strings.Trim(root, "/")
	if root != "" {
		var ok bool
		if key, ok = strings.CutPrefix(key, root+"/"); !ok {
			return "", false
		}
	}
	game, rest, ok := strings.Cut(key, "/")
	if !ok || game == "" || rest == "" {
		return "", false
	}
	return game, true
}

var (
	originOnce sync.Once
	origin     string
)

// Origin identifies this machine in remote metadata. It is an app-scoped hash
// of the machine id, falling back to the host name.
func Origin() string {
	originOnce.Do(func() {
		if id, err := machineid.ProtectedID("savekeeper"); err == nil {
			origin = id[:16]
			return
		}
		if host, err := os.Hostname(); err == nil {
			origin = host
			return
		}
		origin = "unknown"
	})
	return origin
}

// throttledBody paces reads of an upload body. Seek is kept so SDKs can
// rewind the body for signing and retries.
type throttledBody struct {
	*bytes.Reader
	bucket *ratelimit.Bucket
}

func (t *throttledBody) Read(p []byte) (int, error) {
	n, err := t.Reader.Read(p)
	if n > 0 {
		t.bucket.Wait(int64(n))
	}
	return n, err
}

// uploadBody wraps body in a rate limited reader when a limit is set.
func uploadBody(body []byte, bps int64) io.ReadSeeker {
	r := bytes.NewReader(body)
	if bps <= 0 {
		return r
	}
	return &throttledBody{Reader: r, bucket: ratelimit.NewBucketWithRate(float64(bps), bps)}
}

// cleanKey rejects keys that would escape the namespace.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("invalid remote key %q", key)
	}
	return key, nil
}

// isContextErr reports whether err comes from the caller giving up.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
