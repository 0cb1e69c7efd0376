package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/models"
	"chatsync/internal/transport"
	"chatsync/internal/user"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "relay server HTTP address")
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "relay websocket address")
	pairs    = flag.Int("pairs", 50, "number of chatting pairs")
	msgCount = flag.Int("msgs", 20, "messages per user")
)

func main() {
	flag.Parse()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	logger.Info().Int("users", *pairs*2).Int("msgs", *msgCount).Msg("starting stress test")
	start := time.Now()

	var sent, received atomic.Int64
	var wg sync.WaitGroup

	// Pairs: user 0a talks to user 0b, 1a to 1b...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID, logger, &sent, &received)
		}(i)
	}

	wg.Wait()
	logger.Info().
		Int64("sent", sent.Load()).
		Int64("received", received.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(pairID int, logger zerolog.Logger, sent, received *atomic.Int64) {
	emailA := fmt.Sprintf("u_%d_a@load.test", pairID)
	emailB := fmt.Sprintf("u_%d_b@load.test", pairID)
	pass := "password123"

	tokenA := authenticate(emailA, pass, logger)
	tokenB := authenticate(emailB, pass, logger)
	if tokenA == "" || tokenB == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenA, emailA, emailB, logger, sent, received)
	go spamChat(&wsWg, tokenB, emailB, emailA, logger, sent, received)
	wsWg.Wait()
}

// authenticate registers (a conflict means the user already exists) and logs in.
func authenticate(email, password string, logger zerolog.Logger) string {
	resp, err := postJSON("/register", user.RegisterRequest{Email: email, Name: email, Password: password})
	if err == nil {
		resp.Body.Close()
	}

	resp, err = postJSON("/login", user.LoginRequest{Email: email, Password: password})
	if err != nil {
		logger.Error().Err(err).Str("email", email).Msg("login failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Str("email", email).Msg("login rejected")
		return ""
	}

	var data user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return ""
	}
	return data.AccessToken
}

func spamChat(wg *sync.WaitGroup, token, self, peer string, logger zerolog.Logger, sent, received *atomic.Int64) {
	defer wg.Done()
	ctx := context.Background()

	ws := transport.NewWebSocket(*wsURL, transport.WithToken(token))
	ws.On(models.EventMessage, func(raw []byte) {
		var p models.Payload
		if json.Unmarshal(raw, &p) == nil && p.ReceiverID == self {
			received.Add(1)
		}
	})
	if err := ws.Connect(ctx); err != nil {
		logger.Error().Err(err).Str("user", self).Msg("websocket connect failed")
		return
	}
	defer ws.Disconnect()

	for i := 0; i < *msgCount; i++ {
		p := models.Payload{SenderID: self, ReceiverID: peer, Message: fmt.Sprintf("LoadTest Msg %d from %s", i, self)}
		if err := ws.Emit(ctx, models.EventSendMessage, p); err != nil {
			logger.Error().Err(err).Str("user", self).Msg("send failed")
			break
		}
		sent.Add(1)
		// Simulate a real network instead of a localhost burst.
		time.Sleep(10 * time.Millisecond)
	}
	// Leave time for the tail of the peer's messages to arrive.
	time.Sleep(time.Second)
	logger.Info().Str("user", self).Int("msgs", *msgCount).Msg("finished sending")
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewReader(body))
}
