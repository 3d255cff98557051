package upload

import (
	"fmt"
	"strings"

	"github.com/pixelport/go-imagepush/stepconf"
	"github.com/pixelport/go-imagepush/upload/compression"
)

// Config is the engine configuration read from the environment.
type Config struct {
	// EndpointURL is the storage endpoint. A https:// URL selects the worker
	// wire protocol, an s3://bucket URL selects the S3 destination.
	EndpointURL        string `env:"IMAGEPUSH_ENDPOINT_URL,required"`
	AccountID          string `env:"IMAGEPUSH_ACCOUNT_ID"`
	FolderPath         string `env:"IMAGEPUSH_FOLDER_PATH"`
	CompressionQuality int    `env:"IMAGEPUSH_COMPRESSION_QUALITY"`

	S3Region          string          `env:"IMAGEPUSH_S3_REGION"`
	S3AccessKeyID     stepconf.Secret `env:"IMAGEPUSH_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey stepconf.Secret `env:"IMAGEPUSH_S3_SECRET_ACCESS_KEY"`
}

// IsS3 reports whether the configured endpoint is an S3 destination.
func (c Config) IsS3() bool {
	return strings.HasPrefix(c.EndpointURL, "s3://")
}

// S3Bucket returns the bucket name of an s3:// endpoint.
func (c Config) S3Bucket() string {
	return strings.TrimSuffix(strings.TrimPrefix(c.EndpointURL, "s3://"), "/")
}

func (u *Uploader) createConfig() (Config, error) {
	var config Config
	if err := stepconf.NewInputParser(u.envRepo).Parse(&config); err != nil {
		return Config{}, err
	}

	if config.IsS3() {
		if config.S3Bucket() == "" {
			return Config{}, fmt.Errorf("the s3:// endpoint URL carries no bucket name")
		}
		if config.S3Region == "" {
			return Config{}, fmt.Errorf("'IMAGEPUSH_S3_REGION' is required for an s3:// endpoint")
		}
	} else if config.AccountID == "" {
		return Config{}, fmt.Errorf("'IMAGEPUSH_ACCOUNT_ID' is not defined")
	}

	if config.CompressionQuality == 0 {
		config.CompressionQuality = compression.DefaultQuality
	}
	if config.CompressionQuality < 1 || config.CompressionQuality > 100 {
		return Config{}, fmt.Errorf("compression quality should be between 1 and 100")
	}

	config.FolderPath = strings.Trim(config.FolderPath, "/")
	return config, nil
}

// resolveFolder validates the requested destination folder against the
// configured folder path. A requested folder outside the configured root is a
// permanent error: retrying cannot fix a configuration mismatch.
func resolveFolder(requested, configured string) (string, error) {
	requested = strings.Trim(requested, "/")
	if requested == "" {
		return configured, nil
	}
	if configured == "" || requested == configured || strings.HasPrefix(requested, configured+"/") {
		return requested, nil
	}
	return "", fmt.Errorf("invalid folder %q: outside the configured folder path %q", requested, configured)
}
