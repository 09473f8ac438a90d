package sessionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"
)

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Uploader stores one object.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

type supabaseUploader struct {
	client *supabase.Client
	bucket string
}

func (u *supabaseUploader) Upload(key, contentType string, data []byte) error {
	if _, err := u.client.Storage.UploadFile(u.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}

// SupabaseSink writes each record as a JSON object in a storage bucket.
type SupabaseSink struct {
	up Uploader
}

func NewSupabaseSink(cfg SupabaseConfig) (*SupabaseSink, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create Supabase client: %w", err)
	}
	return &SupabaseSink{up: &supabaseUploader{client: client, bucket: cfg.Bucket}}, nil
}

// NewUploaderSink wraps any object store.
func NewUploaderSink(up Uploader) *SupabaseSink { return &SupabaseSink{up: up} }

// ObjectKey is sessions/<yyyy-mm-dd>/<session>.json.
func ObjectKey(r Record) string {
	day := "undated"
	if ts, err := time.Parse(time.RFC3339Nano, r.ServerTimestamp); err == nil {
		day = ts.Format("2006-01-02")
	}
	id := r.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-%d", r.ProblemID, time.Now().UnixNano())
	}
	return fmt.Sprintf("sessions/%s/%s.json", day, id)
}

func (s *SupabaseSink) Log(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.up.Upload(ObjectKey(r), "application/json", data)
}
