package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 answers ListObjectsV2 and DeleteObjects for one bucket and refuses
// to delete the keys in denied.
type fakeS3 struct {
	mu      sync.Mutex
	keys    []string
	denied  map[string]bool
	deletes int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/xml")

	switch {
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>exports</Name><IsTruncated>false</IsTruncated>`)
		for _, k := range f.keys {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>2</Size></Contents>`, k)
			}
		}
		b.WriteString(`</ListBucketResult>`)
		io.WriteString(w, b.String())

	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		f.deletes++
		body, _ := io.ReadAll(r.Body)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		kept := f.keys[:0]
		for _, k := range f.keys {
			if !strings.Contains(string(body), "<Key>"+k+"</Key>") {
				kept = append(kept, k)
				continue
			}
			if f.denied[k] {
				kept = append(kept, k)
				fmt.Fprintf(&b, `<Error><Key>%s</Key><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`, k)
			}
		}
		f.keys = kept
		b.WriteString(`</DeleteResult>`)
		io.WriteString(w, b.String())

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.String(), http.StatusNotImplemented)
	}
}

func newFakeS3Service(t *testing.T, fake *fakeS3) *S3Service {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := s3.NewFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: aws.AnonymousCredentials{},
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
	})
	return NewS3Service(client)
}

func TestS3DeletePrefix(t *testing.T) {
	fake := &fakeS3{keys: []string{"exports/1/a.json", "exports/1/b.json", "exports/2/c.json"}}
	svc := newFakeS3Service(t, fake)
	ctx := context.Background()

	if err := svc.DeletePrefix(ctx, "exports", "exports/1/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	left, err := svc.ListObjects(ctx, "exports", "")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(left) != 1 || left[0].Key != "exports/2/c.json" {
		t.Fatalf("left = %+v", left)
	}
}

func TestS3DeletePrefixReportsPartialFailure(t *testing.T) {
	fake := &fakeS3{
		keys:   []string{"exports/1/a.json", "exports/1/b.json"},
		denied: map[string]bool{"exports/1/b.json": true},
	}
	svc := newFakeS3Service(t, fake)

	err := svc.DeletePrefix(context.Background(), "exports", "exports/1/")
	if err == nil || !strings.Contains(err.Error(), "exports/1/b.json") {
		t.Fatalf("DeletePrefix err = %v", err)
	}
	if fake.deletes != 1 {
		t.Fatalf("delete calls = %d", fake.deletes)
	}
}

func TestS3DeletePrefixRejectsEmptyPrefix(t *testing.T) {
	svc := newFakeS3Service(t, &fakeS3{})
	if err := svc.DeletePrefix(context.Background(), "exports", "  "); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
	if err := svc.DeletePrefix(context.Background(), "", "exports/1/"); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestDeleteFailure(t *testing.T) {
	if err := deleteFailure(nil); err != nil {
		t.Fatalf("no errors: %v", err)
	}
	err := deleteFailure([]types.Error{
		{Key: aws.String("k1"), Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")},
		{Key: aws.String("k2")},
	})
	if err == nil || !strings.Contains(err.Error(), "k1") || !strings.Contains(err.Error(), "2 of the batch") {
		t.Fatalf("err = %v", err)
	}
}
