package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cubelabs/stormsync/internal/archive"
	"github.com/cubelabs/stormsync/internal/bundle"
	"github.com/cubelabs/stormsync/internal/transport"
)

// archiveName is the raw download target inside the staging directory. It is
// deleted once extraction completes; only the extracted tree is needed.
const archiveName = "bundle.tar.gz"

// TransportClient is the slice of the transport package the pipeline needs.
type TransportClient interface {
	CheckBundle(ctx context.Context, buildTimestamp int64) (*transport.CheckResult, error)
	CheckDelta(ctx context.Context, since int64) (*transport.CheckResult, error)
	Download(ctx context.Context, url string, dst io.Writer, progress func(done, total int64)) error
}

// Verifier is the integrity checker the pipeline runs against staging and
// live directories.
type Verifier interface {
	Verify(dir string) (bool, error)
	Enforce(dir string) error
}

// Record is the terminal outcome of a request, written to the sync journal.
type Record struct {
	RequestID  string
	Kind       Kind
	Phase      Phase
	Error      string
	Bytes      int64
	BytesTotal int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists terminal request outcomes. Failures to record are logged
// and never affect the request itself.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Options carries the optional collaborators of a DefaultManager.
type Options struct {
	Recorder  Recorder
	Listeners Listeners
	Logger    *slog.Logger
}

// DefaultManager runs the synchronization pipeline: check, download, extract,
// verify, deploy, enforce. It serializes deploy-phase access to the live
// directory; wrap it in SingleFlightManager to serialize whole requests.
type DefaultManager struct {
	storagePath string
	client      TransportClient
	verifier    Verifier
	recorder    Recorder
	listeners   Listeners
	log         *slog.Logger

	updates requestBroadcaster

	// deployMu guards pipeline steps that mutate the live directory.
	// Concurrent writers to the live content tree are the primary hazard
	// this design avoids.
	deployMu chan struct{}

	inflight inflightSet
}

// NewDefaultManager builds the core manager. opts may be nil.
func NewDefaultManager(storagePath string, client TransportClient, verifier Verifier, opts *Options) *DefaultManager {
	m := &DefaultManager{
		storagePath: storagePath,
		client:      client,
		verifier:    verifier,
		log:         slog.Default(),
		deployMu:    make(chan struct{}, 1),
	}
	if opts != nil {
		m.recorder = opts.Recorder
		m.listeners = opts.Listeners
		if opts.Logger != nil {
			m.log = opts.Logger
		}
	}
	m.updates.log = m.log
	return m
}

// CheckForBundle checks for the latest full bundle compatible with the given
// build timestamp (0 forwards no timestamp).
func (m *DefaultManager) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	req := newRequest(KindFullBundle, buildTimestamp, 0)
	m.start(ctx, req, func(ctx context.Context) {
		m.check(ctx, req, func(ctx context.Context) (*transport.CheckResult, error) {
			return m.client.CheckBundle(ctx, buildTimestamp)
		})
	})
	return req
}

// CheckForUpdates checks for a delta bundle of files changed since the given
// manifest timestamp.
func (m *DefaultManager) CheckForUpdates(ctx context.Context, since int64) *Request {
	req := newRequest(KindDeltaUpdate, 0, since)
	m.start(ctx, req, func(ctx context.Context) {
		m.check(ctx, req, func(ctx context.Context) (*transport.CheckResult, error) {
			return m.client.CheckDelta(ctx, since)
		})
	})
	return req
}

// CheckForUpdatesToLocalContent reads the live manifest timestamp and checks
// for a delta from it. Fails with ErrNoLocalContent when no bundle exists.
func (m *DefaultManager) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	since, err := bundle.Timestamp(m.storagePath)
	if err != nil {
		if errors.Is(err, bundle.ErrNoManifest) {
			err = ErrNoLocalContent
		}
		req := newRequest(KindDeltaUpdate, 0, 0)
		m.updates.publish(req)
		req.tracker.publish(waiting())
		m.finish(ctx, req, err, 0, 0)
		return req
	}
	return m.CheckForUpdates(ctx, since)
}

// DownloadUpdates downloads and deploys the archive at endpoint without a
// preceding check, as done for push-provided direct download URLs.
func (m *DefaultManager) DownloadUpdates(ctx context.Context, endpoint string) *Request {
	req := newRequest(KindDirectDownload, 0, 0)
	m.start(ctx, req, func(ctx context.Context) {
		m.download(ctx, req, endpoint)
	})
	return req
}

// CancelPendingRequests cancels every in-flight request's transport
// operation. Affected requests fail with ErrCancelled after staging cleanup.
func (m *DefaultManager) CancelPendingRequests() {
	m.inflight.cancelAll()
}

// ScheduleBackgroundUpdates is not supported on the core manager; scheduling
// lives in SingleFlightManager so background runs serialize correctly.
func (m *DefaultManager) ScheduleBackgroundUpdates(ctx context.Context) error {
	return ErrScheduleNotSupported
}

// Updates returns the diagnostic stream of created requests.
func (m *DefaultManager) Updates() <-chan *Request {
	return m.updates.subscribe()
}

// start publishes the request and launches its pipeline goroutine with a
// cancellable context registered for CancelPendingRequests.
func (m *DefaultManager) start(ctx context.Context, req *Request, run func(ctx context.Context)) {
	m.updates.publish(req)
	req.tracker.publish(waiting())

	runCtx, cancel := context.WithCancel(ctx)
	m.inflight.add(req.ID, cancel)

	metricSyncsStarted.WithLabelValues(string(req.Kind)).Inc()
	m.log.Info("sync request started",
		"component", "updater",
		"action", "request_started",
		"request_id", req.ID,
		"kind", string(req.Kind),
	)

	go func() {
		defer m.inflight.remove(req.ID)
		defer cancel()
		run(runCtx)
	}()
}

// check runs the Checking phase and hands off to download when the server
// signals an update.
func (m *DefaultManager) check(ctx context.Context, req *Request, call func(ctx context.Context) (*transport.CheckResult, error)) {
	req.tracker.publish(checking())

	result, err := call(ctx)
	if err != nil {
		if m.listeners.OnCheckFailed != nil {
			m.listeners.OnCheckFailed(err)
		}
		m.finish(ctx, req, err, 0, 0)
		return
	}

	if m.listeners.OnCheckFinished != nil {
		m.listeners.OnCheckFinished(result.Available)
	}

	if !result.Available {
		m.log.Info("no update available",
			"component", "updater",
			"action", "check_no_update",
			"request_id", req.ID,
		)
		m.finish(ctx, req, nil, 0, 0)
		return
	}

	m.download(ctx, req, result.Endpoint)
}

// download runs the Downloading, Verifying and Deploying phases against a
// fresh staging directory under the storage root.
func (m *DefaultManager) download(ctx context.Context, req *Request, endpoint string) {
	staging := filepath.Join(m.storagePath, bundle.StagingDir)

	// Recreate staging so the area never mixes bytes from two attempts.
	if err := os.RemoveAll(staging); err != nil {
		m.finish(ctx, req, fmt.Errorf("reset staging: %w", err), 0, 0)
		return
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		m.finish(ctx, req, fmt.Errorf("create staging: %w", err), 0, 0)
		return
	}

	stagingLive := true
	defer func() {
		if stagingLive {
			if err := os.RemoveAll(staging); err != nil {
				m.log.Warn("staging directory was not cleaned up",
					"component", "updater",
					"action", "staging_cleanup_failed",
					"path", staging,
					"error", err,
				)
			}
		}
	}()

	req.tracker.publish(downloading(0, 0))

	var bytes, bytesTotal int64
	archivePath := filepath.Join(staging, archiveName)
	if err := m.fetchArchive(ctx, req, endpoint, archivePath, &bytes, &bytesTotal); err != nil {
		m.finish(ctx, req, err, bytes, bytesTotal)
		return
	}

	if err := archive.Extract(archivePath, staging, nil); err != nil {
		m.finish(ctx, req, fmt.Errorf("extract bundle: %w", err), bytes, bytesTotal)
		return
	}
	if err := os.Remove(archivePath); err != nil {
		m.finish(ctx, req, fmt.Errorf("remove archive: %w", err), bytes, bytesTotal)
		return
	}

	req.tracker.publish(verifying())
	ok, err := m.verifier.Verify(staging)
	if err != nil {
		m.finish(ctx, req, fmt.Errorf("verify bundle: %w", err), bytes, bytesTotal)
		return
	}
	if !ok {
		// The verifier already deleted the corrupt staging tree.
		stagingLive = false
		metricVerificationFailures.Inc()
		m.finish(ctx, req, ErrVerificationFailed, bytes, bytesTotal)
		return
	}

	req.tracker.publish(deploying())

	m.deployMu <- struct{}{}
	err = m.deploy(staging)
	<-m.deployMu

	if err != nil {
		m.finish(ctx, req, err, bytes, bytesTotal)
		return
	}
	stagingLive = false

	if m.listeners.OnUpdateDownloaded != nil {
		m.listeners.OnUpdateDownloaded()
	}
	m.finish(ctx, req, nil, bytes, bytesTotal)
}

func (m *DefaultManager) fetchArchive(ctx context.Context, req *Request, endpoint, archivePath string, bytes, bytesTotal *int64) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	err = m.client.Download(ctx, endpoint, f, func(done, total int64) {
		metricBytesDownloaded.Add(float64(done - *bytes))
		*bytes = done
		*bytesTotal = total
		req.tracker.publish(downloading(done, total))
	})
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close archive file: %w", cerr)
	}
	return err
}

// deploy merges the verified staging tree into the live directory and then
// enforces the new manifest. Existing live files are overwritten, new ones
// added; nothing is deleted during the merge itself, and the manifest is
// written last so a failed merge never advances the live timestamp.
func (m *DefaultManager) deploy(staging string) error {
	if err := mergeTree(staging, m.storagePath); err != nil {
		return fmt.Errorf("deploy bundle: %w", err)
	}
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("remove staging: %w", err)
	}
	if err := m.verifier.Enforce(m.storagePath); err != nil {
		return err
	}
	return nil
}

// finish publishes the terminal event, records the outcome and updates
// metrics. A nil err completes the request; any other fails it, with
// context cancellation mapped to ErrCancelled.
func (m *DefaultManager) finish(ctx context.Context, req *Request, err error, bytes, bytesTotal int64) {
	phase := PhaseCompleted
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		phase = PhaseFailed
	}

	if err != nil {
		req.tracker.publish(failed(err))
		metricSyncsFailed.WithLabelValues(string(req.Kind)).Inc()
		m.log.Error("sync request failed",
			"component", "updater",
			"action", "request_failed",
			"request_id", req.ID,
			"kind", string(req.Kind),
			"error", err,
		)
	} else {
		req.tracker.publish(completed())
		metricSyncsCompleted.WithLabelValues(string(req.Kind)).Inc()
		m.log.Info("sync request completed",
			"component", "updater",
			"action", "request_completed",
			"request_id", req.ID,
			"kind", string(req.Kind),
			"bytes", bytes,
		)
	}

	if m.recorder == nil {
		return
	}
	rec := Record{
		RequestID:  req.ID,
		Kind:       req.Kind,
		Phase:      phase,
		Bytes:      bytes,
		BytesTotal: bytesTotal,
		StartedAt:  req.CreatedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// Journal writes never use the request context: a cancelled request
	// still gets its outcome recorded.
	if jerr := m.recorder.Record(context.WithoutCancel(ctx), rec); jerr != nil {
		m.log.Warn("sync outcome was not journalled",
			"component", "updater",
			"action", "journal_write_failed",
			"request_id", req.ID,
			"error", jerr,
		)
	}
}

// mergeTree copies every file under src into dst, overwriting existing files
// and creating directories as needed. The top-level manifest is copied last
// so readers never observe a manifest describing files not yet in place.
func mergeTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." || rel == bundle.ManifestFile {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return err
	}

	srcManifest := filepath.Join(src, bundle.ManifestFile)
	if _, err := os.Stat(srcManifest); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return copyFile(srcManifest, filepath.Join(dst, bundle.ManifestFile))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
