// Command chatsync is a line-oriented chat client: it opens a session for
// -self, shows the conversation with -peer and sends every stdin line to it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatsync/internal/chat"
	"chatsync/internal/config"
	"chatsync/internal/db"
	"chatsync/internal/feed"
	"chatsync/internal/models"
	"chatsync/internal/resource"
	"chatsync/internal/store"
	"chatsync/internal/transport"
)

func main() {
	self := flag.String("self", "", "your email")
	peer := flag.String("peer", "", "email of the person to chat with")
	token := flag.String("token", os.Getenv("CHATSYNC_TOKEN"), "relay access token (websocket transport)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger()

	if *self == "" || *peer == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("store unavailable")
	}
	defer st.Close()

	ch, err := openChannel(cfg, *token, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("transport", cfg.Transport).Msg("transport unavailable")
	}

	chatCfg, err := sessionConfig(cfg, *self, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid session config")
	}
	session := chat.NewSynchronizer(ch, st, chatCfg)

	err = chat.WithSession(ctx, session, func(ctx context.Context) error {
		return run(ctx, session, *self, *peer)
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("session ended")
	}
}

func run(ctx context.Context, session *chat.Synchronizer, self, peer string) error {
	if latest, ok := resource.Last(session.FetchLatest(ctx, self, peer)).Value(); ok {
		fmt.Printf("last message %s\n", time.UnixMilli(latest.Timestamp).Format(time.Kitchen))
	}

	conv, err := session.OpenConversation(ctx, self, peer)
	if err != nil {
		return err
	}
	defer conv.Close()

	<-conv.Ready()
	if e := conv.Err(); e != "" {
		fmt.Printf("(history unavailable: %s)\n", e)
	}

	go printUpdates(conv)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if r := session.Send(ctx, self, peer, line); r.IsError() {
				fmt.Printf("(not sent: %s)\n", r.Err())
			}
		}
	}
}

// printUpdates prints messages not printed yet. The view only grows, so the
// printed count is enough to find them.
func printUpdates(conv *chat.Conversation) {
	sub := conv.Updates()
	defer sub.Close()

	printed := 0
	for view := range sub.C() {
		for _, m := range view[min(printed, len(view)):] {
			printMessage(conv.Self(), m)
		}
		printed = max(printed, len(view))
	}
}

func printMessage(self string, m models.Message) {
	who := m.SenderID
	if who == self {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", time.UnixMilli(m.Timestamp).Format(time.Kitchen), who, m.Text)
}

func sessionConfig(cfg *config.Config, self string, logger zerolog.Logger) (chat.Config, error) {
	overflow, ok := feed.ParseOverflow(cfg.FeedOverflow)
	if !ok {
		return chat.Config{}, fmt.Errorf("unknown feed overflow %q", cfg.FeedOverflow)
	}
	policy, ok := chat.ParsePersistPolicy(cfg.PersistPolicy)
	if !ok {
		return chat.Config{}, fmt.Errorf("unknown persist policy %q", cfg.PersistPolicy)
	}

	c := chat.DefaultConfig(self)
	c.Feed = feed.Options{Buffer: cfg.FeedBuffer, Overflow: overflow}
	c.Persist = policy
	c.WriteTimeout = cfg.WriteTimeout
	c.Logger = logger
	return c, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case "sql":
		database, err := db.NewDatabase(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.AutoMigrate(); err != nil {
			database.Close()
			return nil, err
		}
		return ownedSQL{SQL: store.NewSQL(database), database: database}, nil
	case "redis":
		return store.NewRedisFromURL(ctx, cfg.RedisURL)
	default:
		return store.NewMemory(), nil
	}
}

// ownedSQL closes the database it was opened with.
type ownedSQL struct {
	*store.SQL
	database *db.Database
}

func (s ownedSQL) Close() error { return s.database.Close() }

func openChannel(cfg *config.Config, token string, logger zerolog.Logger) (transport.Channel, error) {
	switch cfg.Transport {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return transport.NewRedis(redis.NewClient(opts), transport.WithRedisLogger(logger)), nil
	case "nats":
		return transport.NewNATS(cfg.NATSURL), nil
	case "memory":
		return transport.NewMemory().Channel(), nil
	default:
		return transport.NewWebSocket(cfg.RelayURL, transport.WithToken(token), transport.WithWebSocketLogger(logger)), nil
	}
}
