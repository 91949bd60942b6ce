package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	cfg "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

var allowedMediaTypes = map[string]models.MediaType{
	"mp4":  models.MediaTypeVideo,
	"mov":  models.MediaTypeVideo,
	"jpg":  models.MediaTypeImage,
	"jpeg": models.MediaTypeImage,
	"png":  models.MediaTypeImage,
}

// MediaStore uploads media and hands out URLs platforms can pull from.
type MediaStore interface {
	MediaResolver
	Upload(ctx context.Context, userID int64, file []byte) (*models.MediaRef, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type R2Service struct {
	config     cfg.Config
	client     objectPutter
	presigner  objectPresigner
	presignTTL time.Duration
}

func NewR2Service(c cfg.Config) (*R2Service, error) {
	client, err := r2Client(c)
	if err != nil {
		return nil, err
	}
	return &R2Service{
		config:     c,
		client:     client,
		presigner:  s3.NewPresignClient(client),
		presignTTL: 6 * time.Hour,
	}, nil
}

func r2Client(c cfg.Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.R2.AccessKey, c.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2.AccountID))
	}), nil
}

// Upload sniffs the file type, stores it under a random key and returns the
// content location to schedule posts with.
func (r *R2Service) Upload(ctx context.Context, userID int64, file []byte) (*models.MediaRef, error) {
	kind, err := filetype.Match(file)
	if err != nil || kind == types.Unknown {
		return nil, ErrUnsupportedMedia
	}
	mediaType, ok := allowedMediaTypes[kind.Extension]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, kind.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	key := fmt.Sprintf("%d/%s.%s", userID, id, kind.Extension)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(kind.MIME.Value),
	}
	if _, err := r.client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &models.MediaRef{Location: key, Type: mediaType}, nil
}

// ResolveURL returns absolute URLs unchanged, joins keys onto the public
// bucket URL when one is configured and presigns them otherwise.
func (r *R2Service) ResolveURL(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://") {
		return location, nil
	}
	if location == "" {
		return "", errors.New("empty content location")
	}

	if base := r.config.R2.PublicBaseURL; base != "" {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(location, "/"), nil
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.config.R2.BucketName),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(r.presignTTL))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return req.URL, nil
}
