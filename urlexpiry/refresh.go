package urlexpiry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-jwt/jwt/v4"
)

// RefreshClient re-signs bulk-dataset download URLs once the cached set is
// expiring or fails a probe: either by calling the source API again (the
// common case — handled by the caller, which owns the API credentials) or,
// when the source hands back raw S3 object keys instead of full pre-signed
// URLs, by presigning directly against S3.
type RefreshClient struct {
	presign *s3.PresignClient
}

// NewRefreshClient loads AWS credentials from the environment/shared config
// via the AWS SDK's default config loader.
func NewRefreshClient(ctx context.Context) (*RefreshClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &RefreshClient{presign: s3.NewPresignClient(client)}, nil
}

// PresignGet returns a fresh pre-signed GET URL for bucket/key, valid for expires.
func (r *RefreshClient) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// AccessTokenExpiry decodes a bearer access token's "exp" claim without
// verifying its signature — the token belongs to the upstream bulk-dataset
// API, not to this pipeline, so there is no key to verify against; the claim
// is read purely as a second, independent expiry signal alongside the URL's
// own signature (§4.11).
func AccessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(expFloat), 0).UTC(), true
}
