package config

// Package config provides a reusable loader for the swap router's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"swaprouter/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one router process. It mirrors
// the structure of the YAML files under cmd/routerd/config.
type Config struct {
	Routing struct {
		MaxPathLength              int     `mapstructure:"max_path_length" json:"max_path_length"`
		RetainPathCount            int     `mapstructure:"retain_path_count" json:"retain_path_count"`
		Overquote                  float64 `mapstructure:"overquote" json:"overquote"`
		PathCacheValidityMS        int     `mapstructure:"path_cache_validity_ms" json:"path_cache_validity_ms"`
		MaxEdgePerPair             int     `mapstructure:"max_edge_per_pair" json:"max_edge_per_pair"`
		MaxEdgePerColdPair         int     `mapstructure:"max_edge_per_cold_pair" json:"max_edge_per_cold_pair"`
		MaxAccountsDefault         int     `mapstructure:"max_accounts_default" json:"max_accounts_default"`
		CheckQuoteOutAmountDeviation bool  `mapstructure:"check_quote_out_amount_deviation" json:"check_quote_out_amount_deviation"`
		MinQuoteOutToInAmountRatio float64 `mapstructure:"min_quote_out_to_in_amount_ratio" json:"min_quote_out_to_in_amount_ratio"`
		WarmupAmountsUI            []float64 `mapstructure:"warmup_amounts_ui" json:"warmup_amounts_ui"`
	} `mapstructure:"routing" json:"routing"`

	HotMints struct {
		LRUCapacity int      `mapstructure:"lru_capacity" json:"lru_capacity"`
		AlwaysHot   []string `mapstructure:"always_hot" json:"always_hot"`
	} `mapstructure:"hot_mints" json:"hot_mints"`

	Updater struct {
		RefreshTickMS           int `mapstructure:"refresh_tick_ms" json:"refresh_tick_ms"`
		RefreshBudgetMS         int `mapstructure:"refresh_budget_ms" json:"refresh_budget_ms"`
		MicroBatchMax           int `mapstructure:"micro_batch_max" json:"micro_batch_max"`
		MicroBatchWindowUS      int `mapstructure:"micro_batch_window_us" json:"micro_batch_window_us"`
		ExcessiveLagThreshold   uint64 `mapstructure:"excessive_lag_threshold" json:"excessive_lag_threshold"`
		ExcessiveLagMaxDurationS int `mapstructure:"excessive_lag_max_duration_s" json:"excessive_lag_max_duration_s"`
		InitTimeoutS            int `mapstructure:"init_timeout_s" json:"init_timeout_s"`
	} `mapstructure:"updater" json:"updater"`

	Outcome struct {
		MultiHopCooldownS  int `mapstructure:"multi_hop_cooldown_s" json:"multi_hop_cooldown_s"`
		SingleHopCooldownS int `mapstructure:"single_hop_cooldown_s" json:"single_hop_cooldown_s"`
	} `mapstructure:"outcome" json:"outcome"`

	Warmer struct {
		Mode            string   `mapstructure:"mode" json:"mode"`
		IntervalS       int      `mapstructure:"interval_s" json:"interval_s"`
		StartupGraceS   int      `mapstructure:"startup_grace_s" json:"startup_grace_s"`
		ConfiguredMints []string `mapstructure:"configured_mints" json:"configured_mints"`
		TargetMint      string   `mapstructure:"target_mint" json:"target_mint"`
		SweepRatePerSec float64  `mapstructure:"sweep_rate_per_sec" json:"sweep_rate_per_sec"`
	} `mapstructure:"warmer" json:"warmer"`

	Adapters struct {
		Enabled  []string          `mapstructure:"enabled" json:"enabled"`
		Programs map[string]string `mapstructure:"programs" json:"programs"`
	} `mapstructure:"adapters" json:"adapters"`

	Tokens []struct {
		Mint     string `mapstructure:"mint" json:"mint"`
		Decimals uint8  `mapstructure:"decimals" json:"decimals"`
	} `mapstructure:"tokens" json:"tokens"`

	Feed struct {
		WebsocketURL string `mapstructure:"websocket_url" json:"websocket_url"`
		RPCURL       string `mapstructure:"rpc_url" json:"rpc_url"`
	} `mapstructure:"feed" json:"feed"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides, plus a .env overlay for secret-like values (RPC/websocket
// endpoints). The resulting configuration is stored in AppConfig and
// returned.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // optional .env overlay; absence is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/routerd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.BindEnv("feed.websocket_url", "ROUTER_WEBSOCKET_URL")
	viper.BindEnv("feed.rpc_url", "ROUTER_RPC_URL")

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ROUTER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ROUTER_ENV", ""))
}
