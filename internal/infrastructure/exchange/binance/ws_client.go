package binance

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"tradestream/internal/infrastructure/exchange"
)

const Name = "binance"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type combined struct {
	Stream string              `json:"stream"`
	Data   jsoniter.RawMessage `json:"data"`
}

func buildCombinedURL(base string, streams []string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("binance ws_url empty")
	}
	clean := make([]string, 0, len(streams))
	for _, s := range streams {
		s = strings.TrimSpace(s)
		if s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return "", errors.New("no valid streams")
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(clean, "/")
	return u.String(), nil
}

func streamName(symbol, kind string) string {
	return fmt.Sprintf("%s@%s", strings.ToLower(symbol), kind)
}

// runStream 连接 wsURL，把 combined stream 的每条 payload 交给 onData，直到 ctx 结束
// 连接失败或断线后按固定间隔重连
func runStream(ctx context.Context, feed, wsURL string, opts exchange.FeedOptions, onData func(stream string, data []byte)) {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 && opts.Reconnects != nil {
			opts.Reconnects.IncFeedReconnect(feed)
		}

		log.Info().Str("feed", feed).Str("url", wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", feed).Err(err).Dur("retry_in", delay).Msg("ws dial failed")
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		log.Info().Str("feed", feed).Msg("ws connected")

		err = readLoop(ctx, conn, func(b []byte) {
			var msg combined
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", feed).Err(e).Msg("json unmarshal failed")
				return
			}
			onData(msg.Stream, msg.Data)
		})
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("feed", feed).Err(err).Dur("retry_in", delay).Msg("ws disconnected, reconnecting")
		if !sleep(ctx, delay) {
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
