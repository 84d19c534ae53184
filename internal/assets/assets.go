// Package assets resolves the URL a page loads a source video from.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Resolver maps a source video of a place to a playable URL.
type Resolver interface {
	VideoURL(ctx context.Context, area, place, sourceID string) (string, error)
}

// ObjectKey is the storage path of a source video: <area>/<place>/<id>.mp4.
func ObjectKey(area, place, sourceID string) (string, error) {
	for _, part := range []string{area, place, sourceID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, "/\\") {
			return "", fmt.Errorf("invalid asset path component %q", part)
		}
	}
	return path.Join(area, place, sourceID+".mp4"), nil
}

// PublicResolver points at a publicly readable bucket or CDN.
type PublicResolver struct {
	Base string
}

func (r PublicResolver) VideoURL(ctx context.Context, area, place, sourceID string) (string, error) {
	key, err := ObjectKey(area, place, sourceID)
	if err != nil {
		return "", err
	}
	base := r.Base
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid video base URL: %w", err)
	}
	return u.JoinPath(key).String(), nil
}

// LocalResolver points at the annotator's own media route.
type LocalResolver struct {
	Prefix string
}

func (r LocalResolver) VideoURL(ctx context.Context, area, place, sourceID string) (string, error) {
	key, err := ObjectKey(area, place, sourceID)
	if err != nil {
		return "", err
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "/media"
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key, nil
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Expiry    time.Duration
}

// S3Resolver presigns GET URLs for videos kept in a private bucket.
type S3Resolver struct {
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

func NewS3Resolver(ctx context.Context, cfg S3Config) (*S3Resolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 2 * time.Hour
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Resolver{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		expiry:    cfg.Expiry,
	}, nil
}

func (r *S3Resolver) VideoURL(ctx context.Context, area, place, sourceID string) (string, error) {
	key, err := ObjectKey(area, place, sourceID)
	if err != nil {
		return "", err
	}
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:              aws.String(r.bucket),
		Key:                 aws.String(key),
		ResponseContentType: aws.String("video/mp4"),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("presign video: %w", err)
	}
	return req.URL, nil
}
