// Package blobstore wraps the S3-compatible object storage used for archived
// import payloads.
package blobstore

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// Config carries the connection settings for one bucket.
type Config struct {
	Region       string
	RootUser     string
	RootPassword string
	Bucket       string
	BaseEndpoint string
}

// Store uploads objects into a single bucket.
type Store struct {
	config Config
}

func New(cfg Config) *Store {
	return &Store{config: cfg}
}

// Put uploads one object.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.RootUser,
			s.config.RootPassword,
			"",
		)))
	if err != nil {
		return err
	}
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.BaseEndpoint)
		o.UsePathStyle = true
	})
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}
