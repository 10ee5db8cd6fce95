/*
Copyright © 2023 mapknit authors
*/
package tilesource

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ObjectClient is the slice of the S3 API the getter needs; *s3.Client
// satisfies it.
type S3ObjectClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3TileGetter reads tile cells from an S3-hosted tile pyramid. The key
// template is a fmt pattern taking matrix identifier, column, row, e.g.
// "tiles/%s/%d/%d.png".
type S3TileGetter struct {
	s3Client    S3ObjectClient
	bucketName  string
	keyTemplate string
}

// NewS3TileGetter creates a getter over an S3 bucket.
func NewS3TileGetter(s3Client S3ObjectClient, bucketName string, keyTemplate string) (*S3TileGetter, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("s3 tile getter: bucket name required")
	}
	g := S3TileGetter{
		s3Client:    s3Client,
		bucketName:  bucketName,
		keyTemplate: keyTemplate,
	}
	return &g, nil
}

func (g *S3TileGetter) GetTile(ctx context.Context, matrixID string, col, row int) ([]byte, error) {
	oName := fmt.Sprintf(g.keyTemplate, matrixID, col, row)
	goi := &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName),
		Key:    aws.String(oName),
	}

	goo, err := g.s3Client.GetObject(ctx, goi)
	if err != nil {
		return nil, &FetchError{URL: "s3://" + g.bucketName + "/" + oName, Err: err}
	}

	data := new(bytes.Buffer)
	_, err = data.ReadFrom(goo.Body)
	goo.Body.Close()
	if err != nil {
		// truncated body reads as connectivity loss, same as the HTTP path
		return nil, &FetchError{
			URL: "s3://" + g.bucketName + "/" + oName,
			Err: fmt.Errorf("%w: %v", ErrServiceUnavailable, err),
		}
	}

	return data.Bytes(), nil
}
