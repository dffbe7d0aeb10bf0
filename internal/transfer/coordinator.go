package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nasdesk/nasdesk/internal/api"
	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/diskspace"
	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/logging"
	"github.com/nasdesk/nasdesk/internal/models"
	"github.com/nasdesk/nasdesk/internal/thumbnail"
)

var (
	ErrNotAnImage        = errors.New("file is not an image that can be previewed")
	ErrThumbnailTooLarge = errors.New("file is too large for a thumbnail")
	ErrIncompleteFile    = errors.New("connection closed before the whole file arrived")
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_jobs_total",
		Help: "Finished jobs by kind and result.",
	}, []string{"kind", "result"})

	jobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_job_session_retries_total",
		Help: "Jobs retried after the NAS reported a lost session.",
	}, []string{"kind"})

	transferBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_transfer_bytes_total",
		Help: "File bytes moved by finished uploads and downloads.",
	}, []string{"direction"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nasdesk_active_jobs",
		Help: "Jobs currently running.",
	})
)

// NasClient is the part of api.Client jobs use.
type NasClient interface {
	ListFolder(ctx context.Context, ep *models.Endpoint, folderPath string) ([]models.FileEntry, error)
	Upload(ctx context.Context, ep *models.Endpoint, remoteDir, filename string, src io.Reader, size int64, onProgress api.ProgressFunc) (*api.UploadResult, error)
	Download(ctx context.Context, ep *models.Endpoint, remotePath string) (*api.DownloadStream, error)
}

// Session is the part of session.Manager jobs use.
type Session interface {
	EnsureValid(ctx context.Context) error
	Endpoint() *models.Endpoint
}

// Options tune a Coordinator. Zero values pick the defaults.
type Options struct {
	Thumbnails       *thumbnail.Cache
	Render           thumbnail.RenderFunc
	ProgressInterval time.Duration
	// TempDir holds preview files; empty means os.TempDir()
	TempDir string
}

// operation performs one attempt of a job against ep and returns the
// confirmation shown on success.
type operation func(ctx context.Context, ep *models.Endpoint) (string, error)

// Coordinator runs every submitted job on its own goroutine. Each job
// checks the session first, performs its operation, and when the NAS says
// the session is gone it re-validates and tries exactly once more. Results
// reach the UI only through the event bus.
type Coordinator struct {
	client   NasClient
	session  Session
	registry *Registry
	bus      *events.EventBus
	logger   *logging.Logger

	thumbs           *thumbnail.Cache
	render           thumbnail.RenderFunc
	progressInterval time.Duration
	tempDir          string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. bus may be nil.
func NewCoordinator(client NasClient, sess Session, bus *events.EventBus, logger *logging.Logger, opts Options) *Coordinator {
	if opts.Thumbnails == nil {
		opts.Thumbnails = thumbnail.NewCache(0, 0)
	}
	if opts.Render == nil {
		opts.Render = thumbnail.Render
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = constants.ProgressUpdateInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:           client,
		session:          sess,
		registry:         NewRegistry(bus),
		bus:              bus,
		logger:           logging.OrNop(logger),
		thumbs:           opts.Thumbnails,
		render:           opts.Render,
		progressInterval: opts.ProgressInterval,
		tempDir:          opts.TempDir,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Registry returns the job registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Thumbnails returns the thumbnail cache.
func (c *Coordinator) Thumbnails() *thumbnail.Cache {
	return c.thumbs
}

// Wait blocks until every submitted job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown aborts running jobs and waits for them to finish.
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// SubmitList loads the children of remotePath; "/" lists the shares.
// Success publishes a DirectoryLoadedEvent.
func (c *Coordinator) SubmitList(remotePath string) *Job {
	remotePath = models.CleanRemote(remotePath)
	job := newJob(KindList, models.RemoteBase(remotePath), remotePath, "")

	return c.submit(job, func(ctx context.Context, ep *models.Endpoint) (string, error) {
		entries, err := c.client.ListFolder(ctx, ep, remotePath)
		if err != nil {
			return "", err
		}
		job.setEntries(entries)
		if c.bus != nil {
			c.bus.PublishDirectoryLoaded(job.ID, remotePath, remotePath == "/", entries)
		}
		return fmt.Sprintf("%d items in %s", len(entries), remotePath), nil
	})
}

// SubmitUpload sends localPath into remoteDir, replacing a file of the same name.
func (c *Coordinator) SubmitUpload(localPath, remoteDir string) *Job {
	remoteDir = models.CleanRemote(remoteDir)
	name := filepath.Base(localPath)
	job := newJob(KindUpload, name, remoteDir, localPath)

	return c.submit(job, func(ctx context.Context, ep *models.Endpoint) (string, error) {
		// Reopened per attempt so a retry starts from the first byte
		f, err := os.Open(localPath)
		if err != nil {
			return "", fmt.Errorf("cannot read %s: %w", name, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("cannot read %s: %w", name, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a folder", name)
		}
		job.setSize(info.Size())

		rep := c.newReporter(job, "Uploading")
		res, err := c.client.Upload(ctx, ep, remoteDir, name, f, info.Size(), rep.report)
		if err != nil {
			return "", err
		}
		rep.done()
		transferBytesTotal.WithLabelValues("upload").Add(float64(res.Bytes))
		return fmt.Sprintf("Uploaded %s to %s", name, remoteDir), nil
	})
}

// SubmitDownload saves remotePath to localPath. An empty localPath means the
// file name in the working directory; an existing directory receives the file
// under its remote name. Bytes land in "<dest>.part" and are renamed only once
// complete, so a failure never leaves a partial or error payload at dest.
func (c *Coordinator) SubmitDownload(remotePath, localPath string) *Job {
	remotePath = models.CleanRemote(remotePath)
	name := models.RemoteBase(remotePath)
	if localPath == "" {
		localPath = name
	} else if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, name)
	}
	job := newJob(KindDownload, name, remotePath, localPath)

	return c.submit(job, func(ctx context.Context, ep *models.Endpoint) (string, error) {
		n, err := c.fetchToFile(ctx, ep, job, localPath, "Downloading")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Downloaded %s to %s (%s)", name, localPath, models.FormatFileSize(n)), nil
	})
}

// SubmitPreview downloads remotePath into a temporary file. The finished
// job's Preview() owns that file; closing it removes the file.
func (c *Coordinator) SubmitPreview(remotePath string) *Job {
	remotePath = models.CleanRemote(remotePath)
	name := models.RemoteBase(remotePath)
	job := newJob(KindPreview, name, remotePath, "")

	return c.submit(job, func(ctx context.Context, ep *models.Endpoint) (string, error) {
		tmp, err := os.CreateTemp(c.tempDir, "nasdesk-preview-*"+path.Ext(name))
		if err != nil {
			return "", fmt.Errorf("cannot create preview file: %w", err)
		}
		dest := tmp.Name()
		tmp.Close()

		n, err := c.fetchToFile(ctx, ep, job, dest, "Opening")
		if err != nil {
			os.Remove(dest)
			return "", err
		}
		job.setPreview(&PreviewFile{Path: dest, Remote: remotePath, Size: n})
		return fmt.Sprintf("Opened %s", name), nil
	})
}

// SubmitThumbnail produces the thumbnail of an image for mode. A cached
// thumbnail finishes the job at once without touching the network; otherwise
// the file is fetched, rendered, cached and a ThumbnailReadyEvent published.
func (c *Coordinator) SubmitThumbnail(remotePath string, mode models.ViewMode) *Job {
	key := thumbnail.NewKey(remotePath, mode)
	job := newJob(KindThumbnail, models.RemoteBase(key.Path), key.Path, "")
	job.Mode = mode

	if img, ok := c.thumbs.Get(key); ok {
		c.registry.track(job)
		job.setThumbnail(img, true)
		if c.bus != nil {
			c.bus.PublishThumbnailReady(job.ID, key.Path, mode, img, true)
		}
		c.finish(job, "Thumbnail ready for "+job.Name, nil)
		return job
	}

	if !models.IsImage(job.Name) {
		c.registry.track(job)
		c.finish(job, "", ErrNotAnImage)
		return job
	}

	return c.submit(job, func(ctx context.Context, ep *models.Endpoint) (string, error) {
		stream, err := c.client.Download(ctx, ep, key.Path)
		if err != nil {
			return "", err
		}
		defer stream.Close()

		if stream.ContentLength > constants.ThumbnailMaxSourceBytes {
			return "", ErrThumbnailTooLarge
		}
		data, err := io.ReadAll(io.LimitReader(stream, constants.ThumbnailMaxSourceBytes+1))
		if err != nil {
			return "", err
		}
		if len(data) > constants.ThumbnailMaxSourceBytes {
			return "", ErrThumbnailTooLarge
		}

		img := c.render(data, mode)
		if img == nil {
			return "", ErrNotAnImage
		}

		// A logout while rendering makes the path meaningless to the next session.
		// The second check catches a logout that purged between check and Add.
		if c.session.Endpoint() == ep {
			c.thumbs.Add(key, img)
			if c.session.Endpoint() != ep {
				c.thumbs.Remove(key)
			}
		}
		job.setThumbnail(img, false)
		if c.bus != nil {
			c.bus.PublishThumbnailReady(job.ID, key.Path, mode, img, false)
		}
		return "Thumbnail ready for " + job.Name, nil
	})
}

func (c *Coordinator) submit(job *Job, op operation) *Job {
	c.registry.track(job)
	c.wg.Add(1)
	activeJobs.Inc()

	go func() {
		defer c.wg.Done()
		defer activeJobs.Dec()

		msg, err := c.run(c.ctx, job, op)
		c.finish(job, msg, err)
	}()
	return job
}

// run is the per-job protocol: check the session, operate, and on a lost
// session (and only then) check again and operate once more.
func (c *Coordinator) run(ctx context.Context, job *Job, op operation) (string, error) {
	c.registry.transition(job, StateRunning)
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	msg, err := c.attempt(ctx, job, op)
	if err == nil || !api.IsSessionNotFound(err) {
		return msg, err
	}

	c.logger.Info().Str("job", job.ID).Str("kind", string(job.Kind)).Str("path", job.Remote).
		Msg("NAS lost the session during the job, retrying once")
	jobRetriesTotal.WithLabelValues(string(job.Kind)).Inc()
	c.registry.transition(job, StateRetrying)

	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	return c.attempt(ctx, job, op)
}

// ensureSession fails with api.ErrSessionExpired when the session cannot be
// made valid.
func (c *Coordinator) ensureSession(ctx context.Context) error {
	err := c.session.EnsureValid(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, api.ErrSessionExpired) {
		return err
	}
	return fmt.Errorf("%w: %v", api.ErrSessionExpired, err)
}

func (c *Coordinator) attempt(ctx context.Context, job *Job, op operation) (string, error) {
	ep := c.session.Endpoint()
	if ep == nil {
		return "", api.ErrSessionExpired
	}
	job.beginAttempt()
	return op(ctx, ep)
}

// finish records the outcome and sends exactly one notification for it.
func (c *Coordinator) finish(job *Job, msg string, err error) {
	prev := job.State()
	job.finish(err)
	c.registry.finished(job, prev)

	kind := string(job.Kind)
	if err != nil {
		jobsTotal.WithLabelValues(kind, "failure").Inc()
		text := api.Describe(job.label(), err)
		c.logger.Warn().Err(err).Str("job", job.ID).Str("kind", kind).Str("path", job.Remote).Msg(text)
		if c.bus != nil {
			c.bus.PublishJobFailed(job.ID, kind, job.Remote, text, err)
			if job.Kind != KindThumbnail {
				c.bus.PublishStatus(text)
			}
		}
		return
	}

	jobsTotal.WithLabelValues(kind, "success").Inc()
	c.logger.Debug().Str("job", job.ID).Str("kind", kind).Str("path", job.Remote).Int("attempts", job.Attempts()).Msg(msg)
	if c.bus != nil {
		c.bus.PublishJobComplete(job.ID, kind, job.Remote, msg)
		if job.Kind != KindThumbnail {
			c.bus.PublishStatus(msg)
		}
	}
}

// fetchToFile streams job.Remote into dest via "<dest>.part".
func (c *Coordinator) fetchToFile(ctx context.Context, ep *models.Endpoint, job *Job, dest, verb string) (int64, error) {
	stream, err := c.client.Download(ctx, ep, job.Remote)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	job.setSize(stream.ContentLength)
	if err := diskspace.CheckAvailableSpace(dest, stream.ContentLength, constants.DiskSpaceBufferPercent); err != nil {
		return 0, err
	}

	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("cannot write %s: %w", filepath.Base(dest), err)
	}

	rep := c.newReporter(job, verb)
	written, err := copyChunks(out, stream, rep.report)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("cannot write %s: %w", filepath.Base(dest), closeErr)
	}
	if err == nil && stream.ContentLength >= 0 && written != stream.ContentLength {
		err = &api.NetworkError{Op: "download", Err: ErrIncompleteFile}
	}
	if err != nil {
		os.Remove(part)
		return written, err
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return written, fmt.Errorf("cannot write %s: %w", filepath.Base(dest), err)
	}
	rep.done()
	transferBytesTotal.WithLabelValues("download").Add(float64(written))
	return written, nil
}

func copyChunks(dst io.Writer, stream *api.DownloadStream, onProgress api.ProgressFunc) (int64, error) {
	var written int64
	for chunk, err := range stream.Chunks() {
		if err != nil {
			return written, err
		}
		n, werr := dst.Write(chunk)
		written += int64(n)
		if werr != nil {
			return written, fmt.Errorf("cannot write file: %w", werr)
		}
		onProgress(written)
	}
	return written, nil
}
