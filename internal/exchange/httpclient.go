package exchange

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClientConfig содержит настройки HTTP клиента для discovery-запросов
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // таймаут установки TCP соединения
	TotalTimeout   time.Duration // общий таймаут запроса

	// Connection pooling
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		TotalTimeout:        15 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// userAgent отправляется в discovery-запросах: часть бирж (MEXC, HTX)
// режет запросы без User-Agent
const userAgent = "arbscanner/1.0"

var (
	restClient     *resty.Client
	restClientOnce sync.Once
)

// RESTClient возвращает общий resty клиент поверх пула соединений.
// Все коннекторы ходят в REST через него: один пул на процесс.
func RESTClient() *resty.Client {
	restClientOnce.Do(func() {
		cfg := DefaultHTTPClientConfig()

		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		}

		restClient = resty.NewWithClient(&http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
		})
		restClient.SetHeader("User-Agent", userAgent)
	})
	return restClient
}
