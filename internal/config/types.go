package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TradingConfig 描述模拟账户与交易决策的约束。
type TradingConfig struct {
	Symbol             string        `mapstructure:"symbol"`
	InitialBalance     float64       `mapstructure:"initial_balance"`
	MaxLeverage        int           `mapstructure:"max_leverage"`
	MinPositionPercent float64       `mapstructure:"min_position_percent"`
	MaxPositionPercent float64       `mapstructure:"max_position_percent"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	DefaultTPPercent   float64       `mapstructure:"default_tp_percent"`
	DefaultSLPercent   float64       `mapstructure:"default_sl_percent"`
	PriceMaxAge        time.Duration `mapstructure:"price_max_age"`
}

// ExchangeConfig 描述行情数据源连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig 控制分析周期节奏。
type SchedulerConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
}

// ServerConfig 控制对外管理接口。
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Trading.Symbol == "" {
		err = multierr.Append(err, errors.New("trading.symbol 不能为空"))
	}
	if c.Trading.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("trading.initial_balance 必须大于0"))
	}
	if c.Trading.MaxLeverage < 1 {
		err = multierr.Append(err, errors.New("trading.max_leverage 必须大于等于1"))
	}
	if c.Trading.MinPositionPercent <= 0 || c.Trading.MinPositionPercent > 1 {
		err = multierr.Append(err, errors.New("trading.min_position_percent 必须位于(0,1]"))
	}
	if c.Trading.MaxPositionPercent <= 0 || c.Trading.MaxPositionPercent > 1 {
		err = multierr.Append(err, errors.New("trading.max_position_percent 必须位于(0,1]"))
	}
	if c.Trading.MinPositionPercent > c.Trading.MaxPositionPercent {
		err = multierr.Append(err, errors.New("trading.min_position_percent 不能大于 max_position_percent"))
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 100 {
		err = multierr.Append(err, errors.New("trading.min_confidence 必须位于[0,100]"))
	}
	if c.Trading.DefaultTPPercent <= 0 || c.Trading.DefaultTPPercent >= 1 {
		err = multierr.Append(err, errors.New("trading.default_tp_percent 必须位于(0,1)"))
	}
	if c.Trading.DefaultSLPercent <= 0 || c.Trading.DefaultSLPercent >= 1 {
		err = multierr.Append(err, errors.New("trading.default_sl_percent 必须位于(0,1)"))
	}
	if c.Trading.PriceMaxAge <= 0 {
		err = multierr.Append(err, errors.New("trading.price_max_age 必须大于0"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
