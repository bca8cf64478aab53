// Package s3 管理商品圖片在 S3 相容物件儲存中的檔案
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DeleteObjects 單次最多可刪除的物件數
const maxDeleteBatch = 1000

// ObjectDeleter 是 *s3.Client 中用到的操作
type ObjectDeleter interface {
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type options struct {
	logger *slog.Logger
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ImageRemover 依圖片的公開網址刪除對應的物件
type ImageRemover struct {
	client         ObjectDeleter
	bucket         string
	publicEndpoint *url.URL
	logger         *slog.Logger
}

func NewImageRemover(client ObjectDeleter, bucket, publicBaseURL string, opts ...Option) (*ImageRemover, error) {
	const op = "NewImageRemover"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	if bucket == "" {
		return nil, fmt.Errorf("[%s] Bucket cannot be empty", op)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &ImageRemover{
		client:         client,
		bucket:         bucket,
		publicEndpoint: publicEndpoint,
		logger:         o.logger.With(slog.String("caller", "ImageRemover")),
	}, nil
}

// ObjectKey 將公開網址轉回物件 key，不屬於這個儲存空間的網址回傳 false
func (r *ImageRemover) ObjectKey(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != r.publicEndpoint.Scheme || u.Host != r.publicEndpoint.Host {
		return "", false
	}
	prefix := strings.TrimSuffix(r.publicEndpoint.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	return key, key != ""
}

// RemoveImages 刪除網址對應的物件，無法辨識的網址只記錄不處理
func (r *ImageRemover) RemoveImages(ctx context.Context, urls []string) error {
	const op = "RemoveImages"
	objects := make([]types.ObjectIdentifier, 0, len(urls))
	for _, rawURL := range urls {
		key, ok := r.ObjectKey(rawURL)
		if !ok {
			r.logger.Warn("skip image outside of bucket", slog.String("url", rawURL))
			continue
		}
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	var errs []error
	for start := 0; start < len(objects); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(objects))
		output, err := r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(r.bucket),
			Delete: &types.Delete{
				Objects: objects[start:end],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, failed := range output.Errors {
			errs = append(errs, fmt.Errorf("key=%s, code=%s, message=%s",
				aws.ToString(failed.Key), aws.ToString(failed.Code), aws.ToString(failed.Message)))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("[%s] Fail to delete images from S3, err=%w", op, err)
	}
	r.logger.Debug("images removed", slog.Int("count", len(objects)))
	return nil
}
