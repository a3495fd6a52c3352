package config

import (
	"os"

	postgres_wrapper "github.com/joripage/fix-exchange/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/fix-exchange/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string `yaml:"service_name"`

	ListenAddr     string `yaml:"listen_addr"`
	LocalCompID    string `yaml:"local_comp_id"`
	MaxConnections int    `yaml:"max_connections"`

	MatchingMode              string  `yaml:"matching_mode"`
	MaxOrderPrice             float64 `yaml:"max_order_price"`
	MaxOrderQuantity          int64   `yaml:"max_order_quantity"`
	MaxOrdersPerSymbol        int     `yaml:"max_orders_per_symbol"`
	HeartbeatIntervalSeconds  int     `yaml:"heartbeat_interval_seconds"`
	MaxProcessingTimeUs       int     `yaml:"max_processing_time_us"`
	EnableRiskCheck           bool    `yaml:"enable_risk_check"`
	EnableMarketDataCallbacks bool    `yaml:"enable_market_data_callbacks"`

	PprofAddr string `yaml:"pprof_addr"`

	OmsDB *postgres_wrapper.PostgresConfig `yaml:"oms_db"`
	Redis *redis_wrapper.RedisConfig       `yaml:"redis"`
	Kafka *KafkaConfig                     `yaml:"kafka"`
	Nats  *NatsConfig                      `yaml:"nats"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	TradeTopic string   `yaml:"trade_topic"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}
	cfg.applyDefaults()

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9876"
	}
	if c.LocalCompID == "" {
		c.LocalCompID = "EXCHANGE"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 1000
	}
	if c.MatchingMode == "" {
		c.MatchingMode = "CONTINUOUS"
	}
	if c.MaxOrderPrice == 0 {
		c.MaxOrderPrice = 10000.00
	}
	if c.MaxOrderQuantity == 0 {
		c.MaxOrderQuantity = 1_000_000
	}
	if c.MaxOrdersPerSymbol == 0 {
		c.MaxOrdersPerSymbol = 10_000
	}
	if c.HeartbeatIntervalSeconds == 0 {
		c.HeartbeatIntervalSeconds = 30
	}
	if c.MaxProcessingTimeUs == 0 {
		c.MaxProcessingTimeUs = 1000
	}
}
