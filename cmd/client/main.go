package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Intercom/internal/adapters/rtc"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/media"
	"github.com/dkeye/Intercom/internal/media/device"
	"github.com/dkeye/Intercom/internal/session"
	"github.com/dkeye/Intercom/internal/signaling"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
}

func loadConfig() (*config.ClientConfig, error) {
	flags := pflag.NewFlagSet("intercom", pflag.ExitOnError)
	file := flags.String("config", config.FileName("client"), "client config file")
	flags.String("server_url", "", "relay signaling URL")
	flags.String("token", "", "bearer token")
	flags.String("room", "", "room to join on start")
	flags.String("log_level", "", "log level")
	flags.Bool("media.video", true, "capture camera")
	flags.Bool("media.audio", true, "capture microphone")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	// Only flags given on the command line override the file.
	flags.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			_ = v.BindPFlag(f.Name, f)
		}
	})
	return config.LoadClient(v, *file)
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Token == "" {
		return errors.New("no token configured")
	}

	constraints := media.Constraints{Video: cfg.Media.Video, Audio: cfg.Media.Audio}
	rtcCfg := rtc.DefaultConfig()
	if len(cfg.ICEServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	var acq media.Acquirer
	if constraints.Video || constraints.Audio {
		dev, err := device.NewAcquirer(device.Config{
			MaxWidth:     cfg.Media.MaxWidth,
			MaxHeight:    cfg.Media.MaxHeight,
			VideoBitRate: cfg.Media.VideoBitRate,
		})
		if err != nil {
			log.Warn().Err(err).Msg("no capture devices, receive-only")
		} else {
			acq = dev
			rtcCfg.ConfigureMedia = dev.ConfigureMedia
		}
	}
	factory, err := rtc.NewFactory(rtcCfg)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	obs := newConsole(gctx, g)
	s, err := session.Connect(ctx, session.Options{
		Credential: cfg.Token,
		Signaling: signaling.Config{
			URL:        cfg.ServerURL,
			PingPeriod: cfg.PingPeriod,
			SendBuffer: cfg.SendBuffer,
			Reconnect: signaling.ReconnectConfig{
				InitialInterval: cfg.Reconnect.InitialInterval,
				MaxInterval:     cfg.Reconnect.MaxInterval,
				MaxElapsed:      cfg.Reconnect.MaxElapsed,
			},
		},
		Factory:     factory,
		Acquirer:    acq,
		Constraints: constraints,
		Observer:    obs,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()
	fmt.Printf("signed in as %s (%s)\n", s.Self().Username, s.Self().ID)

	if cfg.Room != "" {
		if err := s.Join(ctx, domain.RoomID(cfg.Room)); err != nil {
			return fmt.Errorf("join %s: %w", cfg.Room, err)
		}
	}

	g.Go(func() error {
		select {
		case <-s.Done():
			return errors.New("session ended")
		case <-gctx.Done():
			// Closing the links ends the remote track drains.
			_ = s.Close()
			return gctx.Err()
		}
	})
	g.Go(func() error { return prompt(gctx, s, os.Stdin) })
	return g.Wait()
}

const help = `commands:
  join <room>      leave
  call <user>      family <family>
  accept           reject [reason]
  end              status
  quit`

// prompt reads commands until stdin closes or quit.
func prompt(ctx context.Context, s *session.Session, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	fmt.Println(help)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return context.Canceled
			}
			quit, err := handle(ctx, s, strings.Fields(line))
			if err != nil {
				fmt.Println("error:", err)
			}
			if quit {
				return context.Canceled
			}
		}
	}
}

func handle(ctx context.Context, s *session.Session, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs an argument", args[0])
		}
		return args[1], nil
	}
	switch args[0] {
	case "join":
		room, err := arg()
		if err != nil {
			return false, err
		}
		return false, s.Join(ctx, domain.RoomID(room))
	case "leave":
		return false, s.Leave(ctx)
	case "call":
		user, err := arg()
		if err != nil {
			return false, err
		}
		return false, s.PlaceCall(ctx, domain.UserID(user))
	case "family":
		fam, err := arg()
		if err != nil {
			return false, err
		}
		return false, s.PlaceGroupCall(ctx, domain.FamilyID(fam))
	case "accept":
		return false, s.Accept(ctx)
	case "reject":
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		return false, s.Reject(ctx, reason)
	case "end":
		return false, s.End(ctx)
	case "status":
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		printSnapshot(snap)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		fmt.Println(help)
		return false, nil
	}
}

func printSnapshot(snap session.Snapshot) {
	room := "-"
	if snap.Joined {
		room = string(snap.Room)
	}
	fmt.Printf("room %s, call %s, local media %t\n", room, snap.Call, snap.LocalMedia)
	for _, m := range snap.Members {
		fmt.Printf("  member %s %s\n", m.ID, m.Username)
	}
	if snap.Invitation.Counterpart != "" || snap.Invitation.FamilyID != "" {
		fmt.Printf("  invitation %s %s in %s\n", snap.Invitation.Direction, snap.Invitation.Counterpart, snap.Invitation.RoomID)
	}
	for id, l := range snap.Links {
		fmt.Printf("  link %s %s polite=%t sending=%v receiving=%d pending=%d\n",
			id, l.State, l.Polite, l.Sending, l.Receiving, l.Pending)
	}
}
