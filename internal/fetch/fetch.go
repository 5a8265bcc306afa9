// Package fetch downloads remotely bound rasters into the local scratch area.
//
// Supported locations are http(s) URLs, s3://bucket/key objects and local
// paths (plain or file://), which are passed through untouched. Downloads
// are retried with bounded exponential backoff, rate limited, deduplicated
// across concurrent callers and committed with a temp-file rename, so a
// local copy is either complete or absent.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xtxerr/rastercalc/config"
	"github.com/xtxerr/rastercalc/internal/errors"
	"github.com/xtxerr/rastercalc/internal/logging"
	"github.com/xtxerr/rastercalc/internal/scratch"
	"github.com/xtxerr/rastercalc/internal/validation"
)

// ObjectStore downloads objects for s3:// locations.
type ObjectStore interface {
	// Download writes bucket/key to w and returns the number of bytes.
	// A missing object is reported as errors.ErrNotFound.
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
}

// Options configures a Fetcher.
type Options struct {
	// Dir receives downloaded copies.
	Dir string

	// MaxRetries bounds retries after the first attempt.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration

	// RequestsPerSec limits attempt starts. Zero disables limiting.
	RequestsPerSec float64

	// HTTPClient defaults to a client without timeout; attempts are bounded
	// by Timeout instead.
	HTTPClient *http.Client

	// S3 serves s3:// locations. Nil rejects them.
	S3 ObjectStore

	Logger *slog.Logger
}

// DefaultOptions returns the documented defaults for dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:            dir,
		MaxRetries:     config.DefaultFetchMaxRetries,
		InitialBackoff: config.DefaultFetchInitialBackoff,
		MaxBackoff:     config.DefaultFetchMaxBackoff,
		Timeout:        config.DefaultFetchTimeout,
		RequestsPerSec: config.DefaultFetchRequestsPerSec,
	}
}

// Fetcher resolves symbol locations to local paths.
type Fetcher struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	log     *slog.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// New creates a fetcher.
func New(opts Options) *Fetcher {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = config.DefaultFetchInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	f := &Fetcher{
		opts:    opts,
		client:  opts.HTTPClient,
		log:     logging.Or(opts.Logger, "fetch"),
		flights: make(map[string]*flight),
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if opts.RequestsPerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return f
}

// IsRemote reports whether loc must be downloaded before use.
func IsRemote(loc string) bool {
	l, err := validation.ParseLocation(loc)
	return err == nil && l.IsRemote()
}

// LocalPath returns the path a remote location is downloaded to.
func (f *Fetcher) LocalPath(loc string) string {
	return filepath.Join(f.opts.Dir, scratch.FileName(loc))
}

// Fetch returns a local path holding the content of loc, downloading it
// when it is remote and not already present.
func (f *Fetcher) Fetch(ctx context.Context, loc string) (string, error) {
	l, err := validation.ParseLocation(loc)
	if err != nil {
		return "", err
	}

	switch l.Scheme {
	case validation.SchemeLocal, validation.SchemeFile:
		return l.Path, nil
	case validation.SchemeS3:
		if f.opts.S3 == nil {
			return "", fmt.Errorf("%w: %s: no s3 backend configured", errors.ErrUnsupportedScheme, loc)
		}
	}

	local := f.LocalPath(loc)
	if _, err := os.Stat(local); err == nil {
		f.log.Debug("already fetched", "url", loc, "path", local)
		return local, nil
	}

	for {
		fl := f.join(ctx, local)
		ch := f.group.DoChan(local, func() (interface{}, error) {
			if _, err := os.Stat(local); err == nil {
				return nil, nil
			}
			return nil, f.download(fl.ctx, l, local)
		})

		select {
		case <-ctx.Done():
			if f.leave(local, fl) {
				// Last caller out cancelled the download; wait for it to stop.
				<-ch
			}
			return "", ctx.Err()

		case res := <-ch:
			f.leave(local, fl)
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					f.log.Debug("joined an abandoned fetch, restarting", "url", loc)
					continue
				}
				return "", res.Err
			}
			if res.Shared {
				f.log.Debug("joined in-flight fetch", "url", loc)
			}
			return local, nil
		}
	}
}

// flight is the download context shared by every caller waiting on one
// local path. It is cancelled when the last of them gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers a caller for local. The first caller's ctx values carry
// over to the download, its cancellation does not.
func (f *Fetcher) join(ctx context.Context, local string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, ok := f.flights[local]
	if !ok {
		dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: dctx, cancel: cancel}
		f.flights[local] = fl
	}
	fl.waiters++
	return fl
}

// leave unregisters a caller and reports whether it was the last one.
func (f *Fetcher) leave(local string, fl *flight) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return false
	}
	fl.cancel()
	if f.flights[local] == fl {
		delete(f.flights, local)
	}
	return true
}

// download runs attempts until one succeeds, a permanent error occurs or
// retries are exhausted.
func (f *Fetcher) download(ctx context.Context, l *validation.Location, local string) error {
	if err := os.MkdirAll(f.opts.Dir, 0755); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}

	start := time.Now()
	loc := l.String()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.opts.InitialBackoff
	eb.MaxInterval = f.opts.MaxBackoff

	attempt := 0
	n, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return 0, backoff.Permanent(err)
			}
		}
		n, err := f.attempt(ctx, l, local)
		if err != nil && !isPermanent(err) {
			f.log.Warn("fetch attempt failed", "url", loc, "attempt", attempt, "error", err)
		}
		return n, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(f.opts.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s after %d attempt(s): %w", errors.ErrRemoteFetch, loc, attempt, err)
	}

	f.log.Info("fetched",
		"url", loc,
		"path", local,
		"bytes", n,
		"attempt", attempt,
		"duration", time.Since(start),
	)
	return nil
}

// attempt performs one download into a temp file and renames it into place.
func (f *Fetcher) attempt(ctx context.Context, l *validation.Location, local string) (int64, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	tmp := local + ".tmp-" + uuid.NewString()
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create %s: %w", tmp, err))
	}

	var n int64
	if l.Scheme == validation.SchemeS3 {
		n, err = f.fetchS3(ctx, l, file)
	} else {
		n, err = f.fetchHTTP(ctx, l.URL, file)
	}
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, local)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, statusError(resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

func (f *Fetcher) fetchS3(ctx context.Context, l *validation.Location, w io.WriterAt) (int64, error) {
	n, err := f.opts.S3.Download(ctx, l.Bucket, l.Key, w)
	if errors.Is(err, errors.ErrNotFound) {
		return 0, backoff.Permanent(err)
	}
	return n, err
}

// statusError classifies an HTTP status. Client errors other than 408 and
// 429 do not improve on retry.
func statusError(code int) error {
	err := fmt.Errorf("http status %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %w", errors.ErrNotFound, err))
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return backoff.Permanent(err)
	}
	return err
}

func isPermanent(err error) bool {
	var perr *backoff.PermanentError
	return errors.As(err, &perr)
}
