package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDestination_UnmarshalByKind(t *testing.T) {
	body := `{"type":"S3","config":{"bucket_name":"b","region":"us-east-1","prefix":"p/","aws_secret_access_key":"s"}}`

	var d Destination
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s3, ok := d.Config.(*S3Config)
	if !ok {
		t.Fatalf("expected *S3Config, got %T", d.Config)
	}
	if s3.BucketName != "b" || s3.AWSSecretAccessKey != "s" {
		t.Errorf("unexpected config %+v", s3)
	}
	if d.Kind() != DestinationS3 {
		t.Errorf("Kind() = %q", d.Kind())
	}
}

func TestDestination_UnknownKind(t *testing.T) {
	var d Destination
	err := json.Unmarshal([]byte(`{"type":"FTP","config":{}}`), &d)
	if !IsCode(err, ErrCodeValidationInvalidDestination) {
		t.Fatalf("expected invalid destination error, got %v", err)
	}
}

func TestDestination_MarshalRedactsSecrets(t *testing.T) {
	d := Destination{
		ID: "d1",
		Config: &SnowflakeConfig{
			Account: "acc", User: "u", Password: "pw", Database: "db",
			Warehouse: "wh", Schema: "public", TableName: "events",
		},
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "pw") {
		t.Errorf("password leaked: %s", data)
	}
	if !strings.Contains(string(data), `"type":"Snowflake"`) {
		t.Errorf("missing type: %s", data)
	}
	// Redacting must not mutate the stored config.
	if d.Config.(*SnowflakeConfig).Password != "pw" {
		t.Error("Redacted mutated the original config")
	}
}

func TestDestinationConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         DestinationConfig
		wantMissing []string
	}{
		{"s3 ok", &S3Config{BucketName: "b", Region: "r"}, nil},
		{"s3 missing", &S3Config{}, []string{"bucket_name", "region"}},
		{"bigquery missing key", &BigQueryConfig{ProjectID: "p", DatasetID: "d", TableID: "t", ClientEmail: "e"}, []string{"private_key", "private_key_id"}},
		{"snowflake keypair", &SnowflakeConfig{
			Account: "a", User: "u", AuthenticationType: "keypair", Database: "d",
			Warehouse: "w", Schema: "s", TableName: "t",
		}, []string{"private_key"}},
		{"postgres ok", &PostgresConfig{SQLConnection{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d", TableName: "t"}, false}, nil},
		{"databricks missing secret", &DatabricksConfig{
			ServerHostname: "h", HTTPPath: "/p", ClientID: "c", Catalog: "c", Schema: "s", TableName: "t",
		}, []string{"client_secret"}},
		{"http missing url", &HTTPConfig{}, []string{"url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantMissing == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *AppError, got %v", err)
			}
			got, _ := appErr.Details["missing"].([]string)
			if strings.Join(got, ",") != strings.Join(tt.wantMissing, ",") {
				t.Errorf("missing = %v, want %v", got, tt.wantMissing)
			}
		})
	}
}

func TestDestinationConfig_MissingInputsMessage(t *testing.T) {
	err := (&S3Config{}).Validate()
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *AppError, got %v", err)
	}
	if want := "The following inputs are missing: [bucket_name, region]"; appErr.Message != want {
		t.Errorf("Message = %q, want %q", appErr.Message, want)
	}
	if appErr.Details["type"] != string(DestinationS3) {
		t.Errorf("details type = %v", appErr.Details["type"])
	}
}

func TestRedshiftConfig_RejectsUnknownMode(t *testing.T) {
	cfg := &RedshiftConfig{
		SQLConnection: SQLConnection{User: "u", Password: "p", Host: "h", Database: "d", TableName: "t"},
		Mode:          "MERGE",
	}
	if err := cfg.Validate(); !IsCode(err, ErrCodeValidationInvalidDestination) {
		t.Errorf("expected invalid destination, got %v", err)
	}
}

func TestDestinationConfig_MergeSecrets(t *testing.T) {
	prev := &S3Config{BucketName: "old", Region: "r", AWSAccessKeyID: "AKIA", AWSSecretAccessKey: "secret"}

	patched := (&S3Config{BucketName: "new", Region: "r"}).MergeSecrets(prev).(*S3Config)
	if patched.BucketName != "new" {
		t.Errorf("BucketName = %q", patched.BucketName)
	}
	if patched.AWSSecretAccessKey != "secret" || patched.AWSAccessKeyID != "AKIA" {
		t.Errorf("secrets not preserved: %+v", patched)
	}

	rotated := (&S3Config{BucketName: "new", AWSSecretAccessKey: "rotated"}).MergeSecrets(prev).(*S3Config)
	if rotated.AWSSecretAccessKey != "rotated" {
		t.Errorf("explicit secret overwritten: %q", rotated.AWSSecretAccessKey)
	}

	// A kind switch carries nothing over.
	pg := (&PostgresConfig{}).MergeSecrets(prev).(*PostgresConfig)
	if pg.Password != "" {
		t.Errorf("unexpected password %q", pg.Password)
	}
}

func TestHTTPConfig_HeaderSecrets(t *testing.T) {
	prev := &HTTPConfig{URL: "https://x", Token: "t", Headers: map[string]any{"Authorization": "Bearer abc"}}

	red := prev.Redacted().(*HTTPConfig)
	if red.Headers["Authorization"] != "" || red.Token != "" {
		t.Errorf("headers not redacted: %+v", red)
	}

	merged := (&HTTPConfig{URL: "https://y", Headers: map[string]any{"Authorization": "", "X-New": "1"}}).
		MergeSecrets(prev).(*HTTPConfig)
	if merged.Headers["Authorization"] != "Bearer abc" || merged.Headers["X-New"] != "1" || merged.Token != "t" {
		t.Errorf("unexpected merge %+v", merged)
	}
}
