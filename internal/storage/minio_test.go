package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
)

func TestNewMinIOClient_InvalidEndpoint(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "invalid-endpoint:port:scheme", // Invalid format
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "test-bucket",
		UseSSL:    false,
	}

	_, err := NewMinIOClient(cfg)
	if err == nil {
		t.Fatal("expected error with invalid endpoint, got nil")
	}
}

func TestNewMinIOArchive_ConnectionRefused(t *testing.T) {
	// Test connection failure (assuming no MinIO at localhost:12345)
	cfg := MinIOConfig{
		Endpoint:  "localhost:12345",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "test-bucket",
		UseSSL:    false,
	}

	// Note: minio.New() doesn't connect immediately, but BucketExists does.
	_, err := NewMinIOArchive(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error connecting to non-existent minio, got nil")
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if !isNotFound(notFound) {
		t.Error("expected NoSuchKey to be treated as not found")
	}
	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if isNotFound(denied) {
		t.Error("expected AccessDenied not to be treated as not found")
	}
}

func loadMinIOConfigFromEnv(t *testing.T) MinIOConfig {
	t.Helper()
	godotenv.Load("../../.env.test")

	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	if endpoint == "" || accessKey == "" || secretKey == "" {
		t.Skip("MINIO_ENDPOINT, MINIO_ACCESS_KEY, and MINIO_SECRET_KEY must be set for integration tests")
	}

	return MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    useSSL,
	}
}

func TestMinIOClient_RoundTrip_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := loadMinIOConfigFromEnv(t)
	cfg.Bucket = "test-bucket-" + time.Now().Format("20060102-150405")

	ctx := context.Background()
	client, err := NewMinIOArchive(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to initialize minio client: %v", err)
	}

	key := "hrrr.20240101/conus/hrrr.t06z.wrfsfcf00.grib2"
	content := "GRIB-bytes"

	ok, err := client.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Fatal("expected key to be absent before Put")
	}

	if _, err := client.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Open, got %v", err)
	}

	if err := client.Put(ctx, key, strings.NewReader(content)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok, err = client.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true, nil", ok, err)
	}

	obj, err := client.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}

	if string(data) != content {
		t.Fatalf("unexpected content: got %q, want %q", string(data), content)
	}
}
