package models

import (
	"encoding/json"
	"fmt"
)

// BackendKind is the discriminator of the Backend union.
type BackendKind string

const (
	BackendDisabled BackendKind = "Disabled"
	BackendWebDAV   BackendKind = "WebDAV"
	BackendS3       BackendKind = "S3"
)

// Backend is the closed set of remote storage variants. Exactly one is active
// at a time. Implementations: DisabledBackend, WebDAVBackend, S3Backend.
type Backend interface {
	Kind() BackendKind
	// Sanitized returns a copy safe to log.
	Sanitized() Backend
	isBackend()
}

// DisabledBackend turns cloud sync off.
type DisabledBackend struct{}

func (DisabledBackend) Kind() BackendKind { return BackendDisabled }
func (DisabledBackend) Sanitized() Backend { return DisabledBackend{} }
func (DisabledBackend) isBackend() {}
func (DisabledBackend) String() string { return string(BackendDisabled) }

// WebDAVBackend stores backups on a WebDAV server.
type WebDAVBackend struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (WebDAVBackend) Kind() BackendKind { return BackendWebDAV }
func (WebDAVBackend) isBackend() {}

func (b WebDAVBackend) Sanitized() Backend {
	return WebDAVBackend{Endpoint: b.Endpoint, Username: "*username*", Password: "*password*"}
}

// S3Backend stores backups in an S3-compatible bucket.
type S3Backend struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Bucket          string `json:"bucket" validate:"required"`
	Region          string `json:"region" validate:"required"`
	AccessKeyID     string `json:"access_key_id" validate:"required"`
	SecretAccessKey string `json:"secret_access_key" validate:"required"`
}

func (S3Backend) Kind() BackendKind { return BackendS3 }
func (S3Backend) isBackend() {}

func (b S3Backend) Sanitized() Backend {
	return S3Backend{
		Endpoint:        "*endpoint*",
		Bucket:          "*bucket*",
		Region:          "*region*",
		AccessKeyID:     "*access_key_id*",
		SecretAccessKey: "*secret_access_key*",
	}
}

// BackendConfig carries a Backend through JSON as
// {"type": "Disabled"} | {"type": "WebDAV", ...} | {"type": "S3", ...}.
// Variants are immutable values, so copies may share them.
type BackendConfig struct {
	Backend Backend `validate:"-" copier:"-"`
}

// Get returns the configured variant, DisabledBackend when unset.
func (c BackendConfig) Get() Backend {
	if c.Backend == nil {
		return DisabledBackend{}
	}
	return c.Backend
}

// MarshalJSON writes the tagged form.
func (c BackendConfig) MarshalJSON() ([]byte, error) {
	switch b := c.Get().(type) {
	case DisabledBackend:
		return json.Marshal(struct {
			Type BackendKind `json:"type"`
		}{BackendDisabled})
	case WebDAVBackend:
		return json.Marshal(struct {
			Type BackendKind `json:"type"`
			WebDAVBackend
		}{BackendWebDAV, b})
	case S3Backend:
		return json.Marshal(struct {
			Type BackendKind `json:"type"`
			S3Backend
		}{BackendS3, b})
	default:
		return nil, fmt.Errorf("unknown backend %T", b)
	}
}

// UnmarshalJSON reads the tagged form. Fields of the variant are required to be
// present; their content is checked by the config validator.
func (c *BackendConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Type BackendKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Type {
	case BackendDisabled:
		c.Backend = DisabledBackend{}
	case BackendWebDAV:
		var b WebDAVBackend
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		c.Backend = b
	case BackendS3:
		var b S3Backend
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		c.Backend = b
	default:
		return fmt.Errorf("unknown backend type %q", head.Type)
	}
	return nil
}

// CloudSettings parameterizes the sync engine.
type CloudSettings struct {
	AlwaysSync       bool          `json:"always_sync"`
	AutoSyncInterval uint64        `json:"auto_sync_interval"` // minutes, 0 disables
	RootPath         string        `json:"root_path" default:"/game-save-manager"`
	Backend          BackendConfig `json:"backend"`
}

// Sanitized returns a copy whose credentials are masked.
func (c CloudSettings) Sanitized() CloudSettings {
	c.Backend = BackendConfig{Backend: c.Backend.Get().Sanitized()}
	return c
}

// ObjectMeta is the metadata stored next to a remote archive.
type ObjectMeta struct {
	Describe  string `json:"describe,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	CreatedAt string `json:"created_at,omitempty"` // RFC3339Nano
	Origin    string `json:"origin,omitempty"`     // machine that uploaded the object
}

// RemoteObject is one committed key in the remote namespace.
type RemoteObject struct {
	Key  string
	Size int64
}
