package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// OpenSearch (ベクトルインデックス)
	OpenSearchURL      string `mapstructure:"opensearch_url" validate:"required,url"`
	OpenSearchIndex    string `mapstructure:"opensearch_index" validate:"required"`
	OpenSearchUsername string `mapstructure:"opensearch_username"`
	OpenSearchPassword string `mapstructure:"opensearch_password"`

	// Marketplace
	Domain             string        `mapstructure:"domain" validate:"required,hostname"`
	UseAPI             bool          `mapstructure:"use_api"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout" validate:"min=1s"`
	FetchMaxSize       int64         `mapstructure:"fetch_max_size" validate:"min=1024"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" validate:"min=0"`
	SoldContainerAttr  string        `mapstructure:"sold_container_attr" validate:"required"`
	SoldContainerValue string        `mapstructure:"sold_container_value" validate:"required"`
	SoldStatusText     string        `mapstructure:"sold_status_text" validate:"required"`

	// Job
	JobPrefix        string   `mapstructure:"job_prefix" validate:"required"`
	PageSize         int      `mapstructure:"page_size" validate:"min=1"`
	FlushEvery       int      `mapstructure:"flush_every" validate:"min=1"`
	TopBrandsAlpha   float64  `mapstructure:"top_brands_alpha" validate:"min=0,max=1"`
	SortByLikesAlpha float64  `mapstructure:"sort_by_likes_alpha" validate:"min=0,max=1"`
	SortByDateAlpha  float64  `mapstructure:"sort_by_date_alpha" validate:"min=0,max=1"`
	TopBrands        []string `mapstructure:"top_brands" validate:"min=1,dive,required"`

	// Worker
	WorkerInterval time.Duration `mapstructure:"worker_interval" validate:"min=1m"`
	MetricsPort    string        `mapstructure:"metrics_port" validate:"required,numeric"`
	PushgatewayURL string        `mapstructure:"pushgateway_url" validate:"omitempty,url"`

	// Logging
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// defaultTopBrands は上位ブランド限定ジョブで対象とするブランドの既定値。
var defaultTopBrands = []string{
	"Nike", "Adidas", "Zara", "H&M", "Levi's", "Ralph Lauren",
	"The North Face", "Carhartt", "Lacoste", "Tommy Hilfiger",
}

// requiredKeys は必須環境変数に対応するキー。
var requiredKeys = []string{"database_url", "opensearch_url"}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnvはUnmarshal対象のキーを列挙しないため必須キーは明示的にバインドする
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if v.GetString(key) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// TOP_BRANDSはカンマ区切りで受け付ける
	cfg.TopBrands = splitList(v.GetString("top_brands"), cfg.TopBrands)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// BaseURL はマーケットプレイスのベースURLを返す。
func (c *Config) BaseURL() string {
	return fmt.Sprintf("https://www.vinted.%s", c.Domain)
}

// MarketplaceHost はマーケットプレイスのホスト名を返す。
func (c *Config) MarketplaceHost() string {
	return fmt.Sprintf("vinted.%s", c.Domain)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("opensearch_index", "item-embeddings")
	v.SetDefault("opensearch_username", "")
	v.SetDefault("opensearch_password", "")
	v.SetDefault("domain", "fr")
	v.SetDefault("use_api", false)
	v.SetDefault("fetch_timeout", 10*time.Second)
	v.SetDefault("fetch_max_size", 5242880)
	v.SetDefault("requests_per_second", 0)
	v.SetDefault("sold_container_attr", "data-testid")
	v.SetDefault("sold_container_value", "item-status--content")
	v.SetDefault("sold_status_text", "Vendu")
	v.SetDefault("job_prefix", "availability3")
	v.SetDefault("page_size", 10000)
	v.SetDefault("flush_every", 500)
	v.SetDefault("top_brands_alpha", 0.3)
	v.SetDefault("sort_by_likes_alpha", 0.3)
	v.SetDefault("sort_by_date_alpha", 0.3)
	v.SetDefault("top_brands", strings.Join(defaultTopBrands, ","))
	v.SetDefault("worker_interval", 6*time.Hour)
	v.SetDefault("metrics_port", "9090")
	v.SetDefault("pushgateway_url", "")
	v.SetDefault("log_level", "info")
}

// splitList はカンマ区切り文字列を分割する。空の場合はfallbackを返す。
func splitList(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
