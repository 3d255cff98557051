package upload

import (
	"context"
	"fmt"

	"github.com/pixelport/go-imagepush/upload/network"
	"github.com/pixelport/go-imagepush/upload/source"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeResolver struct {
	image source.Image
	err   error

	resolved []string
}

func (r *fakeResolver) Resolve(ctx context.Context, reference string) (source.Image, error) {
	r.resolved = append(r.resolved, reference)
	if r.err != nil {
		return source.Image{}, r.err
	}
	return r.image, nil
}

// fakeUploader implements network.Uploader and network.URLUploader. It
// replays the reporter and progress callbacks a real transfer would issue.
type fakeUploader struct {
	result network.Result
	err    error

	reportChunkProgress bool

	params    []network.UploadParams
	urlParams []network.URLUploadParams
}

func (u *fakeUploader) Upload(ctx context.Context, params network.UploadParams) (network.Result, error) {
	u.params = append(u.params, params)
	if params.Reporter != nil {
		params.Reporter.ReportPhase(params.TaskID, network.PhaseUploading)
	}
	if u.reportChunkProgress && params.Progress != nil {
		params.Progress(3, 5)
		params.Progress(5, 5)
	}
	if u.err != nil {
		return network.Result{}, u.err
	}
	return u.result, nil
}

func (u *fakeUploader) UploadFromURL(ctx context.Context, params network.URLUploadParams) (network.Result, error) {
	u.urlParams = append(u.urlParams, params)
	if params.Reporter != nil {
		params.Reporter.ReportPhase(params.TaskID, network.PhaseUploading)
	}
	if u.err != nil {
		return network.Result{}, u.err
	}
	return u.result, nil
}
