package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageProviderType selects the blob backend
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// Encoding selects the document serialization
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// SystemConfig is the complete backup storage configuration
type SystemConfig struct {
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Codec      CodecConfig      `mapstructure:"codec" yaml:"codec"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
}

// StorageConfig selects and configures one blob backend
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    LocalConfig         `mapstructure:"local" yaml:"local"`
	S3       S3Config            `mapstructure:"s3" yaml:"s3"`
	Azure    AzureConfig         `mapstructure:"azure" yaml:"azure"`
	GCS      GCSConfig           `mapstructure:"gcs" yaml:"gcs"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	// Endpoint targets S3-compatible services; empty means AWS
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

// CodecConfig selects how documents are serialized and compressed
type CodecConfig struct {
	Encoding    Encoding        `mapstructure:"encoding" yaml:"encoding"`
	Compression CompressionType `mapstructure:"compression" yaml:"compression"`
}

// EncryptionConfig defines encryption settings. A key file holding 32 raw
// or 64 hex bytes takes precedence over a passphrase.
type EncryptionConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Passphrase    string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env,omitempty"`
	KeyFile       string `mapstructure:"key_file" yaml:"key_file,omitempty"`
}

// RetentionConfig bounds how many automatic backups a target keeps
type RetentionConfig struct {
	MaxBackups int           `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// SetDefaults sets default values for the backup system configuration
func (c *SystemConfig) SetDefaults() {
	c.Storage.SetDefaults()
	c.Codec.SetDefaults()
	c.Retention.SetDefaults()
}

// Validate validates the whole configuration
func (c *SystemConfig) Validate() error {
	var errs ValidationErrors
	for _, err := range []error{c.Storage.Validate(), c.Codec.Validate(), c.Encryption.Validate(), c.Retention.Validate()} {
		if err == nil {
			continue
		}
		if v, ok := err.(ValidationErrors); ok {
			errs = append(errs, v...)
		} else {
			errs.Add("config", err.Error(), nil)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoadFromEnvironment overlays GUILD_BACKUP_* variables that carry secrets
func (c *SystemConfig) LoadFromEnvironment() {
	if val := os.Getenv("GUILD_BACKUP_S3_ACCESS_KEY"); val != "" {
		c.Storage.S3.AccessKey = val
	}
	if val := os.Getenv("GUILD_BACKUP_S3_SECRET_KEY"); val != "" {
		c.Storage.S3.SecretKey = val
	}
	if val := os.Getenv("GUILD_BACKUP_AZURE_ACCOUNT_KEY"); val != "" {
		c.Storage.Azure.AccountKey = val
	}
	if val := os.Getenv("GUILD_BACKUP_RETENTION_MAX_BACKUPS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.Retention.MaxBackups = parsed
		}
	}
}

// SetDefaults sets default values for storage configuration
func (sc *StorageConfig) SetDefaults() {
	sc.Provider = StorageProviderType(strings.ToUpper(string(sc.Provider)))
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}
	if sc.Local.BasePath == "" {
		sc.Local.BasePath = "./backups"
	}
	if sc.Local.Permissions == 0 {
		sc.Local.Permissions = 0o750
	}
	if sc.S3.Prefix == "" {
		sc.S3.Prefix = "backups/"
	}
	if sc.Azure.Prefix == "" {
		sc.Azure.Prefix = "backups/"
	}
	if sc.GCS.Prefix == "" {
		sc.GCS.Prefix = "backups/"
	}
}

// Validate validates the StorageConfig
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local.BasePath == "" {
			errs.Add("storage.local.base_path", "base path is required", nil)
		}
	case StorageProviderS3:
		if sc.S3.Bucket == "" {
			errs.Add("storage.s3.bucket", "bucket is required", nil)
		}
		if sc.S3.Region == "" {
			errs.Add("storage.s3.region", "region is required", nil)
		}
	case StorageProviderAzure:
		if sc.Azure.AccountName == "" || sc.Azure.AccountKey == "" {
			errs.Add("storage.azure", "account name and key are required", nil)
		}
		if sc.Azure.ContainerName == "" {
			errs.Add("storage.azure.container_name", "container name is required", nil)
		}
	case StorageProviderGCS:
		if sc.GCS.Bucket == "" {
			errs.Add("storage.gcs.bucket", "bucket is required", nil)
		}
	default:
		errs.Add("storage.provider", "must be one of LOCAL, S3, AZURE, GCS", sc.Provider)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults selects JSON and zstd
func (cc *CodecConfig) SetDefaults() {
	if cc.Encoding == "" {
		cc.Encoding = EncodingJSON
	}
	cc.Encoding = Encoding(strings.ToLower(string(cc.Encoding)))
	if cc.Compression == "" {
		cc.Compression = CompressionTypeZstd
	}
	cc.Compression = CompressionType(strings.ToUpper(string(cc.Compression)))
}

// Validate validates the CodecConfig
func (cc *CodecConfig) Validate() error {
	var errs ValidationErrors
	if cc.Encoding != EncodingJSON && cc.Encoding != EncodingMsgpack {
		errs.Add("codec.encoding", "must be json or msgpack", cc.Encoding)
	}
	if _, err := ParseCompressionType(string(cc.Compression)); err != nil {
		errs.Add("codec.compression", "must be NONE, GZIP, LZ4 or ZSTD", cc.Compression)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	if ec.Enabled && !ec.hasKeyMaterial() {
		var errs ValidationErrors
		errs.Add("encryption", "passphrase, passphrase_env or key_file is required when encryption is enabled", nil)
		return errs
	}
	return nil
}

func (ec *EncryptionConfig) hasKeyMaterial() bool {
	return ec.Passphrase != "" || ec.PassphraseEnv != "" || ec.KeyFile != ""
}

// rawKey returns the key file contents, or nil when no key file is configured
func (ec *EncryptionConfig) rawKey() ([]byte, error) {
	if ec.KeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(ec.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key from file %s: %w", ec.KeyFile, err)
	}
	if len(data) == keySize {
		return data, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(key) != keySize {
		return nil, fmt.Errorf("encryption key file must contain %d raw or hex-encoded bytes", keySize)
	}
	return key, nil
}

func (ec *EncryptionConfig) passphrase() (string, error) {
	if ec.Passphrase != "" {
		return ec.Passphrase, nil
	}
	if ec.PassphraseEnv != "" {
		if val := os.Getenv(ec.PassphraseEnv); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %s is empty", ec.PassphraseEnv)
	}
	return "", fmt.Errorf("no passphrase configured")
}

// SetDefaults keeps the newest 10 automatic backups when nothing is set
func (rc *RetentionConfig) SetDefaults() {
	if rc.MaxBackups == 0 && rc.MaxAge == 0 {
		rc.MaxBackups = 10
	}
}

// Validate validates the RetentionConfig
func (rc *RetentionConfig) Validate() error {
	var errs ValidationErrors
	if rc.MaxBackups < 0 {
		errs.Add("retention.max_backups", "max backups cannot be negative", rc.MaxBackups)
	}
	if rc.MaxAge < 0 {
		errs.Add("retention.max_age", "max age cannot be negative", rc.MaxAge)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
