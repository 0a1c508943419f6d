package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// AllExchanges - полный список поддерживаемых бирж.
// Порядок соответствует порядку запуска коннекторов.
var AllExchanges = []string{
	"binance", "bybit", "okx", "kraken", "kucoin",
	"gate", "mexc", "htx", "bitget", "coinbase",
}

// Config содержит всю конфигурацию сканера.
// Собирается один раз на старте и дальше только читается.
type Config struct {
	// Минимальный спред в процентах для алерта (0.8 = 0.8%)
	MinSpreadPercent decimal.Decimal

	// Максимальный спред в процентах (отсечение аномалий)
	MaxSpreadPercent decimal.Decimal

	// Минимальный интервал между алертами по одной связке (мс)
	CooldownMs int64

	// URL для отправки уведомлений
	CallbackURL string

	// Фильтр по базовым активам (BTC,ETH,...). Пустой = без фильтра
	FilterPairs []string

	// Фильтр по биржам при поиске лучших цен. Пустой = все
	FilterExchanges []string

	// Какие коннекторы запускать
	EnabledExchanges []string

	// Глубина стакана. Зарезервировано: сканер работает по top-of-book
	OrderbookDepth int

	// Адрес статусного HTTP сервера
	ListenAddr string

	Logging LoggingConfig
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения.
// Некорректные числовые значения - фатальная ошибка старта.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MIN_SPREAD_PERCENT", "0.8")
	v.SetDefault("MAX_SPREAD_PERCENT", "10.0")
	v.SetDefault("COOLDOWN_MS", "1000")
	v.SetDefault("CALLBACK_URL", "http://192.168.1.223:82/api/datastudio/trigger")
	v.SetDefault("ENABLED_EXCHANGES", strings.Join(AllExchanges, ","))
	v.SetDefault("ORDERBOOK_DEPTH", "5")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	minSpread, err := decimal.NewFromString(v.GetString("MIN_SPREAD_PERCENT"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_SPREAD_PERCENT: %w", err)
	}

	maxSpread, err := decimal.NewFromString(v.GetString("MAX_SPREAD_PERCENT"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_SPREAD_PERCENT: %w", err)
	}

	cooldown, err := strconv.ParseInt(v.GetString("COOLDOWN_MS"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COOLDOWN_MS: %w", err)
	}

	depth, err := strconv.Atoi(v.GetString("ORDERBOOK_DEPTH"))
	if err != nil {
		return nil, fmt.Errorf("invalid ORDERBOOK_DEPTH: %w", err)
	}

	cfg := &Config{
		MinSpreadPercent: minSpread,
		MaxSpreadPercent: maxSpread,
		CooldownMs:       cooldown,
		CallbackURL:      v.GetString("CALLBACK_URL"),
		FilterPairs:      splitList(v.GetString("FILTER_PAIRS"), strings.ToUpper),
		FilterExchanges:  splitList(v.GetString("FILTER_EXCHANGES"), strings.ToLower),
		EnabledExchanges: splitList(v.GetString("ENABLED_EXCHANGES"), strings.ToLower),
		OrderbookDepth:   depth,
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

// IsExchangeEnabled проверяет, включён ли коннектор биржи
func (c *Config) IsExchangeEnabled(name string) bool {
	name = strings.ToLower(name)
	for _, e := range c.EnabledExchanges {
		if e == name {
			return true
		}
	}
	return false
}

// splitList разбирает comma-separated список с нормализацией регистра
func splitList(s string, normalize func(string) string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, normalize(part))
	}
	return out
}
