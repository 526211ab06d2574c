// Command listener joins a room as a headless client and plays through its
// queue on a simulated clock, logging what it hears.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/music-room-server/internal/listener"
	"github.com/music-room-server/pkg/logger"
)

var (
	app         = kingpin.New("music-room-listener", "Headless shared listening room client")
	server      = app.Flag("server", "Server base URL").Default("http://localhost:8080").Envar("ROOM_SERVER").String()
	token       = app.Flag("token", "Bearer token (see mint-token)").Envar("ROOM_TOKEN").Required().String()
	tick        = app.Flag("tick", "Simulated clock step").Default("1s").Duration()
	maxAttempts = app.Flag("max-attempts", "Give up after this many failed connections (0 retries forever)").Default("10").Int()
	maxBackoff  = app.Flag("max-backoff", "Upper bound between reconnect attempts").Default("30s").Duration()
	verbose     = app.Flag("verbose", "Enable debug logging").Short('v').Bool()
	roomCode    = app.Arg("room", "Room code").Required().String()
)

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logCfg := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	session, err := listener.NewSession(listener.Config{
		ServerURL:    *server,
		RoomCode:     *roomCode,
		Token:        *token,
		TickInterval: *tick,
		MaxAttempts:  *maxAttempts,
		MaxBackoff:   *maxBackoff,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid listener config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := session.Run(ctx); err != nil {
		zlog.Error().Err(err).Msg("listener stopped")
		os.Exit(1)
	}

	snap := session.Player().Snapshot()
	zlog.Info().
		Dur("uptime", time.Since(start)).
		Int("played", len(snap.History)).
		Int("queued", len(snap.Queue)).
		Msg("left room")
}
