package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionResult string `mapstructure:"transaction_result"`
	PlanCompleted     string `mapstructure:"plan_completed"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	BaseURL   string `mapstructure:"base_url"`
}

type BusinessConfig struct {
	PlanSize         int     `mapstructure:"plan_size"`          // 一个计划的订单数
	MinAmount        float64 `mapstructure:"min_amount"`         // 充值/提现最低金额
	TxTimeoutSeconds int     `mapstructure:"tx_timeout_seconds"` // 多行事务超时预算
	MaxRetryCount    int     `mapstructure:"max_retry_count"`    // outbox 最大重试次数
}

// TxTimeout 多行账本事务的超时预算
// 计划开通/订单完成前可能有多轮唯一性探测，预算放宽到几十秒
func (b BusinessConfig) TxTimeout() time.Duration {
	if b.TxTimeoutSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(b.TxTimeoutSeconds) * time.Second
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	if config.Business.PlanSize <= 0 {
		config.Business.PlanSize = 20
	}
	if config.Business.MinAmount <= 0 {
		config.Business.MinAmount = 1
	}

	GlobalConfig = config
	return config
}
