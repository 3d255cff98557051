// Package upload is the engine's public surface: it resolves an image source,
// optionally re-encodes it, pushes it to the configured storage endpoint and
// keeps the task registry and the notification queue in sync along the way.
package upload

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"

	"github.com/pixelport/go-imagepush/upload/compression"
	"github.com/pixelport/go-imagepush/upload/network"
	"github.com/pixelport/go-imagepush/upload/notify"
	"github.com/pixelport/go-imagepush/upload/retrypolicy"
	"github.com/pixelport/go-imagepush/upload/source"
	"github.com/pixelport/go-imagepush/upload/task"
)

// ProgressFunc receives task lifecycle updates as they happen. Optional;
// called synchronously, so implementations must not block.
type ProgressFunc func(taskID string, state task.State, message string)

// UploadImageInput ...
type UploadImageInput struct {
	// SourceRef is the image to upload: a http(s) URL, a data: URL or a local
	// file path.
	SourceRef string
	// TaskID continues an already-created task. Empty creates a new one.
	TaskID string
	// Folder is the destination sub-path under the configured folder path.
	Folder string
	// Progress receives state transitions. Optional.
	Progress ProgressFunc
}

// Uploader is the orchestrator service. Construct with NewUploader.
type Uploader struct {
	envRepo     env.Repository
	logger      log.Logger
	tracker     *task.Tracker
	coalescer   *notify.Coalescer
	resolver    source.Resolver
	uploader    network.Uploader
	urlUploader network.URLUploader
	online      retrypolicy.ConnectivityChecker
}

// NewUploader creates the orchestrator. `coalescer`, `resolver` and `uploader`
// can be nil unless a custom implementation is needed; a nil coalescer
// disables notifications.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	tracker *task.Tracker,
	coalescer *notify.Coalescer,
	resolver source.Resolver,
	uploader network.Uploader,
) *Uploader {
	if logger == nil {
		logger = log.NewLogger()
	}
	if tracker == nil {
		tracker = task.NewTracker(logger, nil)
	}
	if resolver == nil {
		resolver = source.NewResolver(logger)
	}
	if uploader == nil {
		uploader = network.DefaultUploader{Logger: logger}
	}
	urlUploader, ok := uploader.(network.URLUploader)
	if !ok {
		urlUploader = network.DefaultUploader{Logger: logger}
	}
	return &Uploader{
		envRepo:     envRepo,
		logger:      logger,
		tracker:     tracker,
		coalescer:   coalescer,
		resolver:    resolver,
		uploader:    uploader,
		urlUploader: urlUploader,
		online:      retrypolicy.AlwaysOnline,
	}
}

// CreateTask registers a task ahead of the transfer so the caller can hold an
// ID before calling UploadImage.
func (u *Uploader) CreateTask(params task.CreateTaskParams) string {
	return u.tracker.CreateTask(params)
}

// Tracker exposes the task registry for state queries.
func (u *Uploader) Tracker() *task.Tracker {
	return u.tracker
}

// UploadImage runs one transfer end-to-end: resolve, re-encode, push. The
// returned Result carries the public URL of the stored object. The task
// reaches a terminal state in every outcome.
func (u *Uploader) UploadImage(ctx context.Context, input UploadImageInput) (network.Result, error) {
	config, err := u.createConfig()
	if err != nil {
		return network.Result{}, fmt.Errorf("failed to parse config: %w", err)
	}

	taskID := input.TaskID
	if taskID == "" {
		taskID = u.tracker.CreateTask(task.CreateTaskParams{Origin: input.SourceRef})
	}

	result, err := u.transfer(ctx, config, taskID, input)
	if err != nil {
		u.fail(taskID, input.Progress, err)
		return network.Result{}, err
	}

	u.setState(taskID, input.Progress, task.StateSuccess, "Image uploaded")
	u.publish(notify.Notification{
		TaskID: taskID,
		Type:   notify.TypeSuccess,
		Title:  "Upload complete",
	})
	u.logger.Donef("Task %s: uploaded to %s", taskID, result.URL)
	return result, nil
}

func (u *Uploader) transfer(ctx context.Context, config Config, taskID string, input UploadImageInput) (network.Result, error) {
	folder, err := resolveFolder(input.Folder, config.FolderPath)
	if err != nil {
		return network.Result{}, err
	}
	u.tracker.SetFolder(taskID, folder)

	u.setState(taskID, input.Progress, task.StateLoading, "Preparing upload")
	u.publish(notify.Notification{
		TaskID:  taskID,
		Type:    notify.TypeLoading,
		Title:   "Uploading image",
		Message: "Preparing upload",
	})

	u.setState(taskID, input.Progress, task.StateFetching, "Fetching image")
	image, err := u.resolver.Resolve(ctx, input.SourceRef)
	if err != nil {
		return network.Result{}, fmt.Errorf("resolve source: %w", err)
	}
	u.logger.Debugf("Task %s: resolved %s (%s, %s)", taskID, image.Filename, image.ContentType,
		units.HumanSizeWithPrecision(float64(len(image.Data)), 3))

	data, err := compression.NewCompressor(config.CompressionQuality, u.logger).Compress(image.Data)
	if err != nil {
		u.logger.Warnf("Task %s: re-encode failed, uploading the original: %s", taskID, err)
		data = image.Data
	}

	if config.IsS3() {
		u.setState(taskID, input.Progress, task.StateUploading, "Uploading")
		return network.UploadToS3(ctx, network.S3UploadParams{
			Bucket:          config.S3Bucket(),
			Region:          config.S3Region,
			AccessKeyID:     string(config.S3AccessKeyID),
			SecretAccessKey: string(config.S3SecretAccessKey),
			Data:            data,
			Filename:        image.Filename,
			ContentType:     image.ContentType,
			Folder:          folder,
		}, u.logger)
	}

	return u.uploader.Upload(ctx, network.UploadParams{
		EndpointURL: config.EndpointURL,
		AccountID:   config.AccountID,
		TaskID:      taskID,
		Data:        data,
		Filename:    image.Filename,
		ContentType: image.ContentType,
		Folder:      folder,
		Online:      u.online,
		Reporter:    phaseReporter{uploader: u, progress: input.Progress},
		Progress:    u.chunkProgress(taskID, input.Progress),
	})
}

// UploadImageFromURL hands the fetch to the endpoint itself instead of
// downloading the image first.
func (u *Uploader) UploadImageFromURL(ctx context.Context, imageURL, folder string, progress ProgressFunc) (network.Result, error) {
	config, err := u.createConfig()
	if err != nil {
		return network.Result{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.IsS3() {
		return network.Result{}, fmt.Errorf("URL mode is not supported on an s3:// endpoint")
	}

	taskID := u.tracker.CreateTask(task.CreateTaskParams{Origin: imageURL})

	resolvedFolder, err := resolveFolder(folder, config.FolderPath)
	if err != nil {
		u.fail(taskID, progress, err)
		return network.Result{}, err
	}
	u.tracker.SetFolder(taskID, resolvedFolder)

	result, err := u.urlUploader.UploadFromURL(ctx, network.URLUploadParams{
		EndpointURL: config.EndpointURL,
		AccountID:   config.AccountID,
		TaskID:      taskID,
		ImageURL:    imageURL,
		Folder:      resolvedFolder,
		Online:      u.online,
		Reporter:    phaseReporter{uploader: u, progress: progress},
	})
	if err != nil {
		u.fail(taskID, progress, err)
		return network.Result{}, err
	}

	u.setState(taskID, progress, task.StateSuccess, "Image uploaded")
	u.publish(notify.Notification{TaskID: taskID, Type: notify.TypeSuccess, Title: "Upload complete"})
	return result, nil
}

// CheckConnection probes the endpoint and validates the configured account ID.
func (u *Uploader) CheckConnection(ctx context.Context) error {
	config, err := u.createConfig()
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if config.IsS3() {
		return fmt.Errorf("connection check is not supported on an s3:// endpoint")
	}
	return network.Probe(ctx, retryhttp.NewClient(u.logger), config.EndpointURL, config.AccountID, u.logger)
}

func (u *Uploader) setState(taskID string, progress ProgressFunc, state task.State, message string) {
	u.tracker.UpdateState(taskID, state, message)
	if progress != nil {
		progress(taskID, state, message)
	}
}

func (u *Uploader) fail(taskID string, progress ProgressFunc, err error) {
	u.setState(taskID, progress, task.StateError, err.Error())
	u.publish(notify.Notification{
		TaskID:  taskID,
		Type:    notify.TypeError,
		Title:   "Upload failed",
		Message: err.Error(),
	})
	u.logger.Errorf("Task %s: %s", taskID, err)
}

func (u *Uploader) publish(n notify.Notification) {
	if u.coalescer != nil {
		u.coalescer.Publish(n)
	}
}

// chunkProgress converts chunk wave completions into task message updates and
// loading notifications.
func (u *Uploader) chunkProgress(taskID string, progress ProgressFunc) func(completed, total int) {
	return func(completed, total int) {
		if total == 0 {
			return
		}
		message := fmt.Sprintf("Uploading %d%% (%d/%d chunks)", completed*100/total, completed, total)
		u.setState(taskID, progress, task.StateUploading, message)
		u.publish(notify.Notification{
			TaskID:  taskID,
			Type:    notify.TypeLoading,
			Title:   "Uploading image",
			Message: message,
		})
	}
}

// phaseReporter maps transfer phases onto task states.
type phaseReporter struct {
	uploader *Uploader
	progress ProgressFunc
}

// ReportPhase ...
func (r phaseReporter) ReportPhase(taskID string, phase network.Phase) {
	switch phase {
	case network.PhaseUploading:
		r.uploader.setState(taskID, r.progress, task.StateUploading, "Uploading")
	case network.PhaseProcessing:
		r.uploader.setState(taskID, r.progress, task.StateProcessing, "Processing")
	}
}

// RunMaintenance starts the tracker sweep and, when notifications are
// enabled, the coalescer drain loop. It blocks until ctx is done.
func (u *Uploader) RunMaintenance(ctx context.Context) {
	if u.coalescer == nil {
		u.tracker.Run(ctx)
		return
	}

	done := make(chan struct{})
	go func() {
		u.tracker.Run(ctx)
		close(done)
	}()
	u.coalescer.Run(ctx)
	<-done
}
