package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL  string
	pairs    int
	messages int
	pause    time.Duration
}

type loginResponse struct {
	Token string `json:"access_token"`
	ID    int    `json:"id"`
}

type frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error,omitempty"`
}

type stats struct {
	sent      atomic.Int64
	acked     atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	opts := options{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive message traffic between pairs of users over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().IntVar(&opts.pairs, "pairs", 50, "number of user pairs")
	cmd.Flags().IntVar(&opts.messages, "messages", 20, "messages sent by each user")
	cmd.Flags().DurationVar(&opts.pause, "pause", 10*time.Millisecond, "pause between messages")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	log.Info().Int("users", opts.pairs*2).Int("messages_each", opts.messages).Msg("starting load test")
	start := time.Now()
	st := &stats{}

	// User 0a talks to user 0b, 1a to 1b, ...
	var wg sync.WaitGroup
	for i := 0; i < opts.pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(opts, st, pairID)
		}(i)
	}
	wg.Wait()

	log.Info().
		Dur("elapsed", time.Since(start)).
		Int64("sent", st.sent.Load()).
		Int64("acked", st.acked.Load()).
		Int64("failed", st.failed.Load()).
		Int64("delivered", st.delivered.Load()).
		Msg("load test complete")
	return nil
}

func runPair(opts options, st *stats, pairID int) {
	run := time.Now().Unix()
	userA := fmt.Sprintf("lt_%d_%d_a", run, pairID)
	userB := fmt.Sprintf("lt_%d_%d_b", run, pairID)

	a, err := authenticate(opts.baseURL, userA, "password123")
	if err != nil {
		log.Error().Err(err).Str("user", userA).Msg("auth failed")
		return
	}
	b, err := authenticate(opts.baseURL, userB, "password123")
	if err != nil {
		log.Error().Err(err).Str("user", userB).Msg("auth failed")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go spamChat(&wg, opts, st, a, b.ID, userA)
	go spamChat(&wg, opts, st, b, a.ID, userB)
	wg.Wait()
}

// authenticate registers (a taken username is fine) and logs in.
func authenticate(baseURL, username, password string) (*loginResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON(baseURL+"/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON(baseURL+"/login", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login returned %d", resp.StatusCode)
	}

	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func spamChat(wg *sync.WaitGroup, opts options, st *stats, me *loginResponse, peerID int, user string) {
	defer wg.Done()

	wsURL := "ws" + strings.TrimPrefix(opts.baseURL, "http") + "/ws?token=" + me.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("websocket connect failed")
		return
	}
	defer conn.Close()

	// Reader: count acks and incoming messages until the socket goes quiet.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch {
			case f.Event == "ack" && f.Error != nil:
				st.failed.Add(1)
				log.Warn().Str("user", user).Str("code", f.Error.Code).Msg("send rejected")
			case f.Event == "ack":
				st.acked.Add(1)
			case f.Event == "message:received":
				st.delivered.Add(1)
			}
		}
	}()

	for i := 0; i < opts.messages; i++ {
		msg := map[string]any{
			"event":  "message:send",
			"ack_id": fmt.Sprintf("%s-%d", user, i),
			"data": map[string]any{
				"recipientId": peerID,
				"content":     fmt.Sprintf("load test message %d from %s", i, user),
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Error().Err(err).Str("user", user).Msg("send failed")
			break
		}
		st.sent.Add(1)
		time.Sleep(opts.pause)
	}

	<-done
	log.Debug().Str("user", user).Int("messages", opts.messages).Msg("finished sending")
}

func postJSON(url string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewBuffer(body))
}
