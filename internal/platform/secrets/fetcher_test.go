package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubManagerClient struct {
	values map[string]string
	err    error
	calls  int
}

func (s *stubManagerClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubManagerClient) Close() error { return nil }

func TestResolveSecretShortReference(t *testing.T) {
	client := &stubManagerClient{values: map[string]string{
		"projects/aurea/secrets/stripe-key/versions/latest": "sk_test_abc",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(client),
		WithDefaultProject("aurea"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.ResolveSecret(context.Background(), "sm://stripe-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "sk_test_abc" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestResolveSecretFullResourcePath(t *testing.T) {
	client := &stubManagerClient{values: map[string]string{
		"projects/other/secrets/webhook/versions/3": "whsec_v3",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(client),
		WithDefaultProject("aurea"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.ResolveSecret(context.Background(), "sm://projects/other/secrets/webhook/versions/3")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "whsec_v3" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestResolveSecretUsesCache(t *testing.T) {
	client := &stubManagerClient{values: map[string]string{
		"projects/aurea/secrets/stripe-key/versions/latest": "sk_test_abc",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(client),
		WithDefaultProject("aurea"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := fetcher.ResolveSecret(context.Background(), "sm://stripe-key"); err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected single remote fetch, got %d", client.calls)
	}
}

func TestResolveSecretFallbackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local development secrets\nsm://stripe-key=sk_local\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &stubManagerClient{err: status.Error(codes.PermissionDenied, "denied")}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(client),
		WithDefaultProject("aurea"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	value, err := fetcher.ResolveSecret(context.Background(), "sm://stripe-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "sk_local" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestResolveSecretRejectsMalformedReference(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(),
		WithClient(&stubManagerClient{}),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	for _, ref := range []string{"", "vault://stripe-key", "sm://projects/aurea/stripe-key"} {
		if _, err := fetcher.ResolveSecret(context.Background(), ref); err == nil {
			t.Fatalf("expected error for reference %q", ref)
		}
	}
}
