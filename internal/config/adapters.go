package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// InventoryConfig configures the inventory system adapter (product creation and stock supply).
type InventoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`     // API token (can be set directly or via env var)
	TokenEnv       string        `mapstructure:"token_env"` // Environment variable name for the token
	Timeout        time.Duration `mapstructure:"timeout"`
	OrganizationID string        `mapstructure:"organization_id"`
	AgentID        string        `mapstructure:"agent_id"`
	StoreID        string        `mapstructure:"store_id"`
	CacheSize      int           `mapstructure:"cache_size"` // id → href lookups kept in memory
}

// ResolveEnvVars loads the token from TokenEnv when no direct value is set.
func (c *InventoryConfig) ResolveEnvVars() {
	if c.TokenEnv != "" && c.Token == "" {
		if val := os.Getenv(c.TokenEnv); val != "" {
			c.Token = val
		}
	}
}

// Configured reports whether a base URL is present.
func (c *InventoryConfig) Configured() bool {
	return c.BaseURL != ""
}

// Validate checks the fields needed to talk to the inventory system.
func (c *InventoryConfig) Validate() error {
	if err := validateBaseURL("inventory", c.BaseURL); err != nil {
		return err
	}
	if c.Token == "" {
		return fmt.Errorf("inventory: token is required (set directly or via %s)", c.TokenEnv)
	}
	if c.OrganizationID == "" || c.StoreID == "" {
		return fmt.Errorf("inventory: organization_id and store_id are required")
	}
	return nil
}

// MarketplaceConfig configures the marketplace listing adapter.
type MarketplaceConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	TokenEnv     string        `mapstructure:"token_env"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SubjectID    int           `mapstructure:"subject_id"`
	MinImageSide int           `mapstructure:"min_image_side"`
	MirrorImages bool          `mapstructure:"mirror_images"`
}

// ResolveEnvVars loads the token from TokenEnv when no direct value is set.
func (c *MarketplaceConfig) ResolveEnvVars() {
	if c.TokenEnv != "" && c.Token == "" {
		if val := os.Getenv(c.TokenEnv); val != "" {
			c.Token = val
		}
	}
}

func (c *MarketplaceConfig) Configured() bool {
	return c.BaseURL != ""
}

func (c *MarketplaceConfig) Validate() error {
	if err := validateBaseURL("marketplace", c.BaseURL); err != nil {
		return err
	}
	if c.Token == "" {
		return fmt.Errorf("marketplace: token is required (set directly or via %s)", c.TokenEnv)
	}
	if c.MinImageSide < 0 {
		return fmt.Errorf("marketplace: min_image_side must not be negative")
	}
	return nil
}

// StorageConfig configures the S3-compatible bucket used to mirror listing images.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

func (c *StorageConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("storage: endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("storage: bucket is required")
	}
	if c.PublicURL == "" {
		return fmt.Errorf("storage: public_url is required to build image links")
	}
	return nil
}

func validateBaseURL(section, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: base_url is required", section)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid base_url %q", section, raw)
	}
	return nil
}
