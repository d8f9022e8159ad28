package browse

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the credentials for bucket listings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// S3 lists objects of the bucket named in a pattern like
// "https://bucket.s3.region.amazonaws.com/sounds/*.ogg".
type S3 struct {
	client *minio.Client
}

// NewS3 connects a bucket lister.
func NewS3(c S3Config) (*S3, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &S3{client: client}, nil
}

// ParseS3URL splits a bucket pattern into bucket name and object pattern.
func ParseS3URL(pattern string) (bucket, key string, err error) {
	rest := pattern
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	rest = strings.TrimPrefix(rest, "/")
	host, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", "", fmt.Errorf("s3 pattern %q has no object path", pattern)
	}
	bucket, _, ok = strings.Cut(host, ".s3.")
	if !ok || bucket == "" {
		return "", "", fmt.Errorf("s3 pattern %q has no bucket", pattern)
	}
	return bucket, key, nil
}

// List implements sfx.Lister. Returned paths keep the pattern's host part so
// they can be fetched directly.
func (s *S3) List(ctx context.Context, pattern string) ([]string, error) {
	bucket, key, err := ParseS3URL(pattern)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(pattern, key)
	prefix := key
	if i := strings.Index(prefix, "*"); i >= 0 {
		prefix = prefix[:i]
	}

	var files []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", bucket, obj.Err)
		}
		if ok, _ := path.Match(key, obj.Key); ok {
			files = append(files, base+obj.Key)
		}
	}
	sort.Strings(files)
	return files, nil
}
