package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

// jsonFast - jsoniter на горячем пути декодирования сообщений
var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// wsDialTimeout - таймаут установки websocket соединения
const wsDialTimeout = 10 * time.Second

// wsSession - websocket соединение с сериализованной записью.
//
// Читает только цикл коннектора, а пишут двое: подписка и keep-alive
// горутина. gorilla/websocket не допускает конкурентных писателей,
// поэтому все записи идут через writeMu.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// dialWS устанавливает websocket соединение
func dialWS(ctx context.Context, url string) (*wsSession, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsDialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsSession{conn: conn}, nil
}

// SendJSON сериализует и отправляет текстовое сообщение
func (s *wsSession) SendJSON(v interface{}) error {
	data, err := jsonFast.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(websocket.TextMessage, data)
}

// SendText отправляет текстовое сообщение как есть
func (s *wsSession) SendText(text string) error {
	return s.SendRaw(websocket.TextMessage, []byte(text))
}

// Ping отправляет ping-фрейм протокольного уровня
func (s *wsSession) Ping() error {
	return s.SendRaw(websocket.PingMessage, nil)
}

// SendRaw отправляет произвольный фрейм под мьютексом записи
func (s *wsSession) SendRaw(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// ReadMessage читает следующий фрейм
func (s *wsSession) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

// Close закрывает соединение
func (s *wsSession) Close() error {
	return s.conn.Close()
}

// keepAlive шлёт heartbeat с заданным интервалом до отмены контекста
// или первой ошибки отправки. Запускается отдельной горутиной на время
// жизни соединения; пишет в тот же сокет через мьютекс сессии.
func (s *wsSession) keepAlive(ctx context.Context, interval time.Duration, send func(*wsSession) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(s); err != nil {
				return
			}
		}
	}
}
