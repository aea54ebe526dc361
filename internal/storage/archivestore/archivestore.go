// Package archivestore is the cold-archival hook of SPEC_FULL.md §12: once a
// message leaves the retention window it is shipped to S3 instead of being
// dropped, so operators can replay or audit it later outside the broker.
//
// The teacher's go.mod carries aws-sdk-go-v2/config and
// aws-sdk-go-v2/credentials but no package actually imports them; archivestore
// is what gives that otherwise-dead dependency a real caller, following the
// config.LoadDefaultConfig-then-override-region pattern used for AWS client
// construction elsewhere in the pack (database/adapters/dynamodb).
package archivestore

import (
	"bytes"
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// Config configures the S3 bucket and optional static credentials archived
// messages are shipped to.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string // empty uses the default AWS credential chain
	SecretAccessKey string
}

// Archiver ships retired message+metadata pairs to S3.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New constructs an Archiver, loading AWS config from the default credential
// chain and overriding region/static credentials when cfg provides them.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, brokererr.New(brokererr.InvalidArgument, "archive bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "load aws config")
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (a *Archiver) objectKey(topic string, id uint64, suffix string) string {
	return a.prefix + topic + "/" + suffix + "/" + strconv.FormatUint(id, 10)
}

// Archive uploads a message's payload and metadata as two objects keyed by
// topic and id, so a replay tool can fetch either independently.
func (a *Archiver) Archive(ctx context.Context, topic string, id uint64, payload, meta []byte) error {
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(topic, id, "data")),
		Body:   bytes.NewReader(payload),
	}); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "archive message %d payload", id)
	}
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(topic, id, "meta")),
		Body:   bytes.NewReader(meta),
	}); err != nil {
		return brokererr.Wrap(brokererr.StorageFailure, err, "archive message %d metadata", id)
	}
	return nil
}

// Fetch retrieves a previously archived payload for replay/audit.
func (a *Archiver) Fetch(ctx context.Context, topic string, id uint64) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(topic, id, "data")),
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "fetch archived message %d", id)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, brokererr.Wrap(brokererr.StorageFailure, err, "read archived message %d", id)
	}
	return buf.Bytes(), nil
}
