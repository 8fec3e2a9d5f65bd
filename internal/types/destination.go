package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DestinationConfig is the closed set of per-destination configurations. Each
// variant owns its secret handling: Redacted blanks secrets for API responses
// and MergeSecrets restores secrets that a PATCH omitted.
type DestinationConfig interface {
	Kind() DestinationKind
	Validate() error
	Redacted() DestinationConfig
	MergeSecrets(prev DestinationConfig) DestinationConfig
}

// Destination is where an export writes. Rows are never soft-deleted; an
// export may be re-pointed at a new destination row on update.
type Destination struct {
	ID        string            `json:"id"`
	TeamID    int64             `json:"-"`
	Config    DestinationConfig `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Kind returns the destination variant.
func (d *Destination) Kind() DestinationKind {
	if d == nil || d.Config == nil {
		return ""
	}
	return d.Config.Kind()
}

type destinationJSON struct {
	ID        string          `json:"id,omitempty"`
	Type      DestinationKind `json:"type"`
	Config    json.RawMessage `json:"config"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// MarshalJSON renders the destination with secrets redacted.
func (d Destination) MarshalJSON() ([]byte, error) {
	out := destinationJSON{ID: d.ID}
	if d.Config != nil {
		out.Type = d.Config.Kind()
		raw, err := json.Marshal(d.Config.Redacted())
		if err != nil {
			return nil, err
		}
		out.Config = raw
	}
	if !d.CreatedAt.IsZero() {
		out.CreatedAt = &d.CreatedAt
	}
	if !d.UpdatedAt.IsZero() {
		out.UpdatedAt = &d.UpdatedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes {"type": ..., "config": {...}} into the matching variant.
func (d *Destination) UnmarshalJSON(data []byte) error {
	var in destinationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg, err := DecodeDestinationConfig(in.Type, in.Config)
	if err != nil {
		return err
	}
	d.ID = in.ID
	d.Config = cfg
	if in.CreatedAt != nil {
		d.CreatedAt = *in.CreatedAt
	}
	if in.UpdatedAt != nil {
		d.UpdatedAt = *in.UpdatedAt
	}
	return nil
}

// DecodeDestinationConfig unmarshals raw into the config struct for kind.
func DecodeDestinationConfig(kind DestinationKind, raw json.RawMessage) (DestinationConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var cfg DestinationConfig
	switch kind {
	case DestinationS3:
		var c S3Config
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationBigQuery:
		var c BigQueryConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationSnowflake:
		var c SnowflakeConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationRedshift:
		var c RedshiftConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationPostgres:
		var c PostgresConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationHTTP:
		var c HTTPConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	case DestinationDatabricks:
		var c DatabricksConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		cfg = &c
	default:
		return nil, NewAppError(ErrCodeValidationInvalidDestination,
			fmt.Sprintf("Unsupported destination type %q", string(kind)), nil)
	}
	return cfg, nil
}

// requireFields returns a validation error naming every empty field.
func requireFields(kind DestinationKind, fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return NewAppErrorWithDetails(ErrCodeValidationInvalidDestination,
		fmt.Sprintf("The following inputs are missing: [%s]", strings.Join(missing, ", ")),
		nil,
		map[string]any{"missing": missing, "type": string(kind)},
	)
}

func keep(patch, prev string) string {
	if patch == "" {
		return prev
	}
	return patch
}

// --- S3 ---

type S3Config struct {
	BucketName         string `json:"bucket_name"`
	Region             string `json:"region"`
	Prefix             string `json:"prefix"`
	AWSAccessKeyID     string `json:"aws_access_key_id,omitempty"`
	AWSSecretAccessKey string `json:"aws_secret_access_key,omitempty"`
	EndpointURL        string `json:"endpoint_url,omitempty"`
	Compression        string `json:"compression,omitempty"`
	FileFormat         string `json:"file_format,omitempty"`
	EncryptionMode     string `json:"encryption,omitempty"`
	KMSKeyID           string `json:"kms_key_id,omitempty"`
	MaxFileSizeMB      *int   `json:"max_file_size_mb,omitempty"`
}

func (c *S3Config) Kind() DestinationKind { return DestinationS3 }

func (c *S3Config) Validate() error {
	if err := requireFields(DestinationS3,
		[2]string{"bucket_name", c.BucketName},
		[2]string{"region", c.Region},
	); err != nil {
		return err
	}
	switch c.FileFormat {
	case "", "JSONLines", "Parquet":
	default:
		return NewAppError(ErrCodeValidationInvalidDestination,
			fmt.Sprintf("File format %s is not supported", c.FileFormat), nil)
	}
	return nil
}

func (c *S3Config) Redacted() DestinationConfig {
	out := *c
	out.AWSAccessKeyID = ""
	out.AWSSecretAccessKey = ""
	return &out
}

func (c *S3Config) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*S3Config); ok {
		out.AWSAccessKeyID = keep(c.AWSAccessKeyID, p.AWSAccessKeyID)
		out.AWSSecretAccessKey = keep(c.AWSSecretAccessKey, p.AWSSecretAccessKey)
	}
	return &out
}

// --- BigQuery ---

type BigQueryConfig struct {
	ProjectID    string `json:"project_id"`
	DatasetID    string `json:"dataset_id"`
	TableID      string `json:"table_id"`
	PrivateKey   string `json:"private_key,omitempty"`
	PrivateKeyID string `json:"private_key_id,omitempty"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri,omitempty"`
	UseJSONType  bool   `json:"use_json_type,omitempty"`
}

func (c *BigQueryConfig) Kind() DestinationKind { return DestinationBigQuery }

func (c *BigQueryConfig) Validate() error {
	return requireFields(DestinationBigQuery,
		[2]string{"project_id", c.ProjectID},
		[2]string{"dataset_id", c.DatasetID},
		[2]string{"table_id", c.TableID},
		[2]string{"private_key", c.PrivateKey},
		[2]string{"private_key_id", c.PrivateKeyID},
		[2]string{"client_email", c.ClientEmail},
	)
}

func (c *BigQueryConfig) Redacted() DestinationConfig {
	out := *c
	out.PrivateKey = ""
	out.PrivateKeyID = ""
	return &out
}

func (c *BigQueryConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*BigQueryConfig); ok {
		out.PrivateKey = keep(c.PrivateKey, p.PrivateKey)
		out.PrivateKeyID = keep(c.PrivateKeyID, p.PrivateKeyID)
	}
	return &out
}

// --- Snowflake ---

type SnowflakeConfig struct {
	Account              string `json:"account"`
	User                 string `json:"user"`
	AuthenticationType   string `json:"authentication_type,omitempty"`
	Password             string `json:"password,omitempty"`
	PrivateKey           string `json:"private_key,omitempty"`
	PrivateKeyPassphrase string `json:"private_key_passphrase,omitempty"`
	Database             string `json:"database"`
	Warehouse            string `json:"warehouse"`
	Schema               string `json:"schema"`
	TableName            string `json:"table_name"`
	Role                 string `json:"role,omitempty"`
}

func (c *SnowflakeConfig) Kind() DestinationKind { return DestinationSnowflake }

func (c *SnowflakeConfig) Validate() error {
	fields := [][2]string{
		{"account", c.Account},
		{"user", c.User},
		{"database", c.Database},
		{"warehouse", c.Warehouse},
		{"schema", c.Schema},
		{"table_name", c.TableName},
	}
	switch c.AuthenticationType {
	case "", "password":
		fields = append(fields, [2]string{"password", c.Password})
	case "keypair":
		fields = append(fields, [2]string{"private_key", c.PrivateKey})
	default:
		return NewAppError(ErrCodeValidationInvalidDestination,
			fmt.Sprintf("Authentication type %s is not supported", c.AuthenticationType), nil)
	}
	return requireFields(DestinationSnowflake, fields...)
}

func (c *SnowflakeConfig) Redacted() DestinationConfig {
	out := *c
	out.Password = ""
	out.PrivateKey = ""
	out.PrivateKeyPassphrase = ""
	return &out
}

func (c *SnowflakeConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*SnowflakeConfig); ok {
		out.Password = keep(c.Password, p.Password)
		out.PrivateKey = keep(c.PrivateKey, p.PrivateKey)
		out.PrivateKeyPassphrase = keep(c.PrivateKeyPassphrase, p.PrivateKeyPassphrase)
	}
	return &out
}

// --- Postgres / Redshift ---

// SQLConnection holds the connection fields shared by SQL warehouses.
type SQLConnection struct {
	User      string `json:"user"`
	Password  string `json:"password,omitempty"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	TableName string `json:"table_name"`
}

func (c SQLConnection) validate(kind DestinationKind) error {
	if err := requireFields(kind,
		[2]string{"user", c.User},
		[2]string{"password", c.Password},
		[2]string{"host", c.Host},
		[2]string{"database", c.Database},
		[2]string{"table_name", c.TableName},
	); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return NewAppError(ErrCodeValidationInvalidDestination,
			fmt.Sprintf("Port %d is out of range", c.Port), nil)
	}
	return nil
}

type PostgresConfig struct {
	SQLConnection
	HasSelfSignedCert bool `json:"has_self_signed_cert,omitempty"`
}

func (c *PostgresConfig) Kind() DestinationKind { return DestinationPostgres }

func (c *PostgresConfig) Validate() error { return c.SQLConnection.validate(DestinationPostgres) }

func (c *PostgresConfig) Redacted() DestinationConfig {
	out := *c
	out.Password = ""
	return &out
}

func (c *PostgresConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*PostgresConfig); ok {
		out.Password = keep(c.Password, p.Password)
	}
	return &out
}

type RedshiftConfig struct {
	SQLConnection
	PropertiesDataType string `json:"properties_data_type,omitempty"`
	Mode               string `json:"mode,omitempty"`
}

func (c *RedshiftConfig) Kind() DestinationKind { return DestinationRedshift }

func (c *RedshiftConfig) Validate() error {
	if err := c.SQLConnection.validate(DestinationRedshift); err != nil {
		return err
	}
	switch c.Mode {
	case "", "COPY", "INSERT":
		return nil
	}
	return NewAppError(ErrCodeValidationInvalidDestination,
		fmt.Sprintf("Mode %s is not supported", c.Mode), nil)
}

func (c *RedshiftConfig) Redacted() DestinationConfig {
	out := *c
	out.Password = ""
	return &out
}

func (c *RedshiftConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*RedshiftConfig); ok {
		out.Password = keep(c.Password, p.Password)
	}
	return &out
}

// --- HTTP ---

type HTTPConfig struct {
	URL     string         `json:"url"`
	Token   string         `json:"token,omitempty"`
	Headers map[string]any `json:"headers,omitempty"`
}

func (c *HTTPConfig) Kind() DestinationKind { return DestinationHTTP }

func (c *HTTPConfig) Validate() error {
	if err := requireFields(DestinationHTTP, [2]string{"url", c.URL}); err != nil {
		return err
	}
	if !strings.HasPrefix(c.URL, "https://") && !strings.HasPrefix(c.URL, "http://") {
		return NewAppError(ErrCodeValidationInvalidDestination,
			fmt.Sprintf("URL %s must use http or https", c.URL), nil)
	}
	return nil
}

// Redacted keeps header names but blanks their values, since headers commonly
// carry credentials.
func (c *HTTPConfig) Redacted() DestinationConfig {
	out := *c
	out.Token = ""
	if c.Headers != nil {
		out.Headers = make(map[string]any, len(c.Headers))
		for k := range c.Headers {
			out.Headers[k] = ""
		}
	}
	return &out
}

func (c *HTTPConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	p, ok := prev.(*HTTPConfig)
	if !ok {
		return &out
	}
	out.Token = keep(c.Token, p.Token)
	if c.Headers != nil {
		out.Headers = make(map[string]any, len(c.Headers))
		for k, v := range c.Headers {
			if s, isStr := v.(string); isStr && s == "" {
				if old, found := p.Headers[k]; found {
					out.Headers[k] = old
					continue
				}
			}
			out.Headers[k] = v
		}
	} else {
		out.Headers = p.Headers
	}
	return &out
}

// --- Databricks ---

type DatabricksConfig struct {
	ServerHostname string `json:"server_hostname"`
	HTTPPath       string `json:"http_path"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret,omitempty"`
	Catalog        string `json:"catalog"`
	Schema         string `json:"schema"`
	TableName      string `json:"table_name"`
	UseVariantType bool   `json:"use_variant_type,omitempty"`
}

func (c *DatabricksConfig) Kind() DestinationKind { return DestinationDatabricks }

func (c *DatabricksConfig) Validate() error {
	return requireFields(DestinationDatabricks,
		[2]string{"server_hostname", c.ServerHostname},
		[2]string{"http_path", c.HTTPPath},
		[2]string{"client_id", c.ClientID},
		[2]string{"client_secret", c.ClientSecret},
		[2]string{"catalog", c.Catalog},
		[2]string{"schema", c.Schema},
		[2]string{"table_name", c.TableName},
	)
}

func (c *DatabricksConfig) Redacted() DestinationConfig {
	out := *c
	out.ClientSecret = ""
	return &out
}

func (c *DatabricksConfig) MergeSecrets(prev DestinationConfig) DestinationConfig {
	out := *c
	if p, ok := prev.(*DatabricksConfig); ok {
		out.ClientSecret = keep(c.ClientSecret, p.ClientSecret)
	}
	return &out
}
