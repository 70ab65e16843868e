package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"nested object", "gs://bucket/folder/file.pdf", "bucket", "folder/file.pdf", false},
		{"top level object", "gs://bucket/file.csv", "bucket", "file.csv", false},
		{"no object", "gs://bucket", "", "", true},
		{"empty object", "gs://bucket/", "", "", true},
		{"wrong scheme", "s3://bucket/file.pdf", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseGCSURI() = %q, %q, want %q, %q", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gs://bucket/folder/file.pdf", "file.pdf"},
		{"file:///tmp/statement.csv", "statement.csv"},
		{"/tmp/a/b.txt", "b.txt"},
	}
	for _, tt := range tests {
		if got := Filename(tt.in); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectName(t *testing.T) {
	if got := ObjectName("user-1", "acc-1", "/home/me/March.pdf"); got != "statements/user-1/acc-1/March.pdf" {
		t.Errorf("ObjectName() = %q", got)
	}
}

func TestGetBytes_Local(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "statement.txt")
	if err := os.WriteFile(p, []byte("05/03/2024 TESCO -12.50"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewWithClient(nil)
	for _, path := range []string{p, "file://" + p} {
		got, err := s.GetBytes(context.Background(), path)
		if err != nil {
			t.Fatalf("GetBytes(%q) error = %v", path, err)
		}
		if string(got) != "05/03/2024 TESCO -12.50" {
			t.Errorf("GetBytes(%q) = %q", path, got)
		}
	}

	if _, err := s.GetBytes(context.Background(), filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGetBytes_GCSWithoutClient(t *testing.T) {
	s := NewWithClient(nil)
	if _, err := s.GetBytes(context.Background(), "gs://bucket/a.pdf"); err == nil {
		t.Error("expected error without a storage client")
	}
	if _, err := s.Upload(context.Background(), "bucket", "a.pdf", "/tmp/a.pdf"); err == nil {
		t.Error("expected Upload error without a storage client")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
