package catalog

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Lister produces the raw set of candidate URLs.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// S3Lister lists a public bucket prefix anonymously and returns
// virtual-hosted object URLs.
type S3Lister struct {
	Bucket string
	Region string
	Prefix string

	client s3iface.S3API
}

// NewS3Lister creates a lister for the given public bucket.
func NewS3Lister(bucket, region, prefix string) (*S3Lister, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.AnonymousCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return &S3Lister{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: s3.New(sess),
	}, nil
}

// List walks every page of the prefix. Directory placeholder keys are skipped.
func (l *S3Lister) List(ctx context.Context) ([]string, error) {
	var links []string

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.Bucket),
		Prefix: aws.String(l.Prefix),
	}
	err := l.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			links = append(links, l.objectURL(key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", l.Bucket, l.Prefix, err)
	}

	return links, nil
}

func (l *S3Lister) objectURL(key string) string {
	u := url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.s3.%s.amazonaws.com", l.Bucket, l.Region),
		Path:   "/" + key,
	}
	return u.String()
}

// FileLister reads URLs from a text file, one per line. Blank lines and lines
// starting with '#' are ignored. Only lines containing Marker are kept when
// Marker is set.
type FileLister struct {
	Path   string
	Marker string
}

// List reads the file.
func (l FileLister) List(ctx context.Context) ([]string, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open link list: %w", err)
	}
	defer f.Close()

	var links []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if l.Marker != "" && !strings.Contains(line, l.Marker) {
			continue
		}
		links = append(links, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read link list: %w", err)
	}

	return links, nil
}
