package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	TableDriverPostgres = "postgres"
	TableDriverSQLite   = "sqlite"

	ObjectStoreFilesystem = "filesystem"
	ObjectStoreS3         = "s3"
)

type Config struct {
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`

	TableDriver string `yaml:"table_driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	TableName   string `yaml:"table_name"`

	ObjectStore string `yaml:"object_store"`
	Bucket      string `yaml:"bucket"`
	RawPrefix   string `yaml:"raw_prefix"`
	FinalPrefix string `yaml:"final_prefix"`
	StoragePath string `yaml:"storage_path"`
	PublicURL   string `yaml:"public_url"`
	SigningKey  string `yaml:"signing_key"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`

	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	KafkaGroup  string `yaml:"kafka_group"`

	WatermarkText     string  `yaml:"watermark_text"`
	WatermarkFont     string  `yaml:"watermark_font"`
	WatermarkFontSize float64 `yaml:"watermark_font_size"`
	// WatermarkBlend composites the mark at its fill alpha instead of
	// painting it opaque.
	WatermarkBlend bool `yaml:"watermark_blend"`

	ResizeSize  int           `yaml:"resize_size"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	PresignTTL  time.Duration `yaml:"presign_ttl"`

	// MaxUploadBytes caps the request body accepted by the HTTP upload route.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Defaults returns a Config populated with every default value.
func Defaults() Config {
	return Config{
		ServerAddr:        ":8080",
		LogLevel:          "info",
		TableDriver:       TableDriverPostgres,
		SQLitePath:        "data/metadata.db",
		TableName:         "metadata-images",
		ObjectStore:       ObjectStoreFilesystem,
		Bucket:            "image-pipeline",
		RawPrefix:         "uploaded/",
		FinalPrefix:       "FINAL-IMAGES/",
		StoragePath:       "data/objects",
		PublicURL:         "http://localhost:8080/objects",
		S3Region:          "us-east-1",
		KafkaTopic:        "image-uploaded",
		KafkaGroup:        "image-processor-group",
		WatermarkText:     "© imgpipe",
		WatermarkFont:     "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
		WatermarkFontSize: 40,
		ResizeSize:        512,
		JPEGQuality:       90,
		PresignTTL:        time.Hour,
		MaxUploadBytes:    32 << 20,
	}
}

// LoadConfig reads the optional YAML file at path, applies environment
// overrides and validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDR":    &c.ServerAddr,
		"LOG_LEVEL":      &c.LogLevel,
		"TABLE_DRIVER":   &c.TableDriver,
		"DATABASE_URL":   &c.DatabaseURL,
		"SQLITE_PATH":    &c.SQLitePath,
		"TABLE_NAME":     &c.TableName,
		"OBJECT_STORE":   &c.ObjectStore,
		"BUCKET":         &c.Bucket,
		"RAW_PREFIX":     &c.RawPrefix,
		"FINAL_PREFIX":   &c.FinalPrefix,
		"STORAGE_PATH":   &c.StoragePath,
		"PUBLIC_URL":     &c.PublicURL,
		"SIGNING_KEY":    &c.SigningKey,
		"S3_REGION":      &c.S3Region,
		"S3_ENDPOINT":    &c.S3Endpoint,
		"KAFKA_BROKER":   &c.KafkaBroker,
		"KAFKA_TOPIC":    &c.KafkaTopic,
		"KAFKA_GROUP":    &c.KafkaGroup,
		"WATERMARK_TEXT": &c.WatermarkText,
		"WATERMARK_FONT": &c.WatermarkFont,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RESIZE_SIZE":  &c.ResizeSize,
		"JPEG_QUALITY": &c.JPEGQuality,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	if v, ok := lookup("WATERMARK_FONT_SIZE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WATERMARK_FONT_SIZE: %w", err)
		}
		c.WatermarkFontSize = f
	}
	if v, ok := lookup("WATERMARK_BLEND"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WATERMARK_BLEND: %w", err)
		}
		c.WatermarkBlend = b
	}
	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	// PRESIGN_TTL is whole seconds, or any time.ParseDuration string.
	if v, ok := lookup("PRESIGN_TTL"); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			c.PresignTTL = time.Duration(secs) * time.Second
		} else {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("PRESIGN_TTL: %w", err)
			}
			c.PresignTTL = d
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ResizeSize <= 0 {
		return fmt.Errorf("resize_size must be positive, got %d", c.ResizeSize)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.WatermarkFontSize <= 0 {
		return fmt.Errorf("watermark_font_size must be positive, got %v", c.WatermarkFontSize)
	}
	if c.PresignTTL <= 0 {
		return fmt.Errorf("presign_ttl must be positive, got %s", c.PresignTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.TableName == "" {
		return errors.New("table_name is required")
	}
	if c.RawPrefix == c.FinalPrefix {
		return fmt.Errorf("raw_prefix and final_prefix must differ, both are %q", c.RawPrefix)
	}
	switch c.TableDriver {
	case TableDriverPostgres, TableDriverSQLite:
	default:
		return fmt.Errorf("unknown table_driver %q", c.TableDriver)
	}
	switch c.ObjectStore {
	case ObjectStoreFilesystem, ObjectStoreS3:
	default:
		return fmt.Errorf("unknown object_store %q", c.ObjectStore)
	}
	return nil
}
