// Package upload copies exported CSVs to Google Cloud Storage.
package upload

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/model"
)

// Uploader stores a local file under an object name and returns its URI.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, objectName string) (string, error)
	Close() error
}

// GCSUploader uploads to one bucket using Application Default Credentials.
type GCSUploader struct {
	bucket    string
	client    *storage.Client
	newWriter func(ctx context.Context, object string) io.WriteCloser
	timeout   time.Duration
}

// NewGCS creates an uploader for bucket.
func NewGCS(ctx context.Context, bucket string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, eris.New("upload: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "upload: create storage client")
	}
	bkt := client.Bucket(bucket)
	return &GCSUploader{
		bucket: bucket,
		client: client,
		newWriter: func(ctx context.Context, object string) io.WriteCloser {
			w := bkt.Object(object).NewWriter(ctx)
			w.ContentType = "text/csv"
			return w
		},
		timeout: 2 * time.Minute,
	}, nil
}

// UploadFile copies localPath to gs://<bucket>/<objectName>.
func (u *GCSUploader) UploadFile(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", eris.Wrapf(err, "upload: open %s", localPath)
	}
	defer f.Close() //nolint:errcheck

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	w := u.newWriter(ctx, objectName)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "upload: copy %s", localPath)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "upload: finalize %s", objectName)
	}
	return URI(u.bucket, objectName), nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ObjectName places a file under <prefix>/<period>/<provider>/<file name>.
func ObjectName(prefix, period, provider, localPath string) string {
	return path.Join(prefix, period, provider, filepath.Base(localPath))
}

// All uploads every file and returns copies with URI set. The first failure
// aborts.
func All(ctx context.Context, u Uploader, prefix, period string, files []model.ExportFile) ([]model.ExportFile, error) {
	log := zap.L().With(zap.String("component", "upload"))
	out := make([]model.ExportFile, len(files))
	for i, f := range files {
		uri, err := u.UploadFile(ctx, f.Path, ObjectName(prefix, period, f.Provider, f.Path))
		if err != nil {
			return nil, eris.Wrapf(err, "upload: %s", f.Provider)
		}
		f.URI = uri
		out[i] = f
		log.Info("export uploaded", zap.String("provider", f.Provider), zap.String("uri", uri))
	}
	return out, nil
}
