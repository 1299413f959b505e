package urlexpiry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/papeline/papeline/urlexpiry"
)

func TestParseAmzDateValid(t *testing.T) {
	got, ok := urlexpiry.ParseAmzDate("20250220T120000Z")
	if !ok {
		t.Fatal("expected valid parse")
	}
	want := time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseAmzDateInvalid(t *testing.T) {
	if _, ok := urlexpiry.ParseAmzDate("invalid"); ok {
		t.Fatal("expected parse failure")
	}
	if _, ok := urlexpiry.ParseAmzDate("2025"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestGetExpirySigV4(t *testing.T) {
	u := "https://s3.amazonaws.com/bucket/key?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Date=20250220T120000Z&X-Amz-Expires=3600&X-Amz-Signature=abc"
	got, ok := urlexpiry.GetExpiry(u)
	if !ok {
		t.Fatal("expected expiry to be found")
	}
	start, _ := urlexpiry.ParseAmzDate("20250220T120000Z")
	want := start.Add(3600 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGetExpirySigV2(t *testing.T) {
	u := "https://s3.amazonaws.com/bucket/key?AWSAccessKeyId=xxx&Expires=1740056400&Signature=yyy"
	got, ok := urlexpiry.GetExpiry(u)
	if !ok {
		t.Fatal("expected expiry to be found")
	}
	want := time.Unix(1740056400, 0).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGetExpiryNoParams(t *testing.T) {
	if _, ok := urlexpiry.GetExpiry("https://example.com/file.gz"); ok {
		t.Fatal("expected no expiry to be found")
	}
}

func TestIsExpiringSoonTrue(t *testing.T) {
	u := "https://s3.amazonaws.com/bucket/key?Expires=1000000000"
	if !urlexpiry.IsExpiringSoon(u, 0) {
		t.Fatal("expected an already-past expiry to be considered expiring")
	}
}

func TestIsExpiringSoonUnknownAssumesValid(t *testing.T) {
	u := "https://example.com/file.gz"
	if urlexpiry.IsExpiringSoon(u, time.Hour) {
		t.Fatal("expected no expiry info to not be treated as expiring")
	}
}

func TestTimeUntilExpiry(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).Unix()
	u := "https://s3.amazonaws.com/bucket/key?Expires=" + strconv.FormatInt(future, 10)
	remaining, ok := urlexpiry.TimeUntilExpiry(u)
	if !ok {
		t.Fatal("expected expiry to be found")
	}
	if remaining <= 0 || remaining > 2*time.Hour+time.Minute {
		t.Fatalf("unexpected remaining duration: %v", remaining)
	}
}

func TestProbeValidOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	ok, err := urlexpiry.ProbeValid(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected 206 to be treated as valid")
	}
}

func TestProbeValidExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ok, err := urlexpiry.ProbeValid(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected 403 to be treated as invalid")
	}
}
