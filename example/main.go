package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	notify "github.com/esiqveland/desknotify"
)

var (
	configPath = flag.String("config", "", "path to a TOML config file")
	summary    = flag.String("summary", "Test", "notification summary")
	body       = flag.String("body", "This is a test of the DBus bindings for go.", "notification body")
	icon       = flag.String("icon", "mail-unread", "icon name or path")
	urgency    = flag.String("urgency", "normal", "low, normal or critical")
	sound      = flag.String("sound", "", "sound name or path to a sound file")
	actions    = flag.String("actions", "cancel:Cancel,open:Open", "comma separated key:label pairs")
	count      = flag.Int("count", 1, "number of notifications to push")
	unflood    = flag.Duration("unflood", notify.UnfloodDisabled, "flood control interval, negative disables")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	if err := runMain(); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		os.Exit(1)
	}
}

func runMain() error {
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := notify.LoadConfig(paths...)
	if err != nil {
		return err
	}

	session := notify.New(
		notify.WithConfig(cfg),
		notify.WithLogger(log),
	)
	defer session.Destroy()
	if *unflood >= 0 {
		session.SetUnflood(*unflood)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	debugServerFeatures(ctx, session, log)

	wg := &sync.WaitGroup{}
	for i := 1; i <= *count; i++ {
		fields := notify.Fields{
			notify.FieldIcon:    *icon,
			notify.FieldSummary: *summary,
			notify.FieldBody:    *body,
			notify.FieldUrgency: *urgency,
			notify.FieldActions: parseActions(*actions),
		}
		if *count > 1 {
			fields[notify.FieldSummary] = fmt.Sprintf("%s #%d", *summary, i)
		}
		if *sound != "" {
			fields[notify.FieldSound] = *sound
		}

		n := session.NewNotification(fields)
		n.OnAction(func(key string) {
			log.Info().Uint32("id", n.ID()).Str("key", key).Msg("action invoked")
		})
		wg.Add(1)
		n.OnClose(func(reason notify.Reason) {
			log.Info().Uint32("id", n.ID()).Stringer("reason", reason).Msg("notification closed")
			wg.Done()
		})

		go func() {
			if err := n.Push(ctx); err != nil {
				log.Error().Err(err).Msg("push failed")
				wg.Done()
				return
			}
			log.Info().Uint32("id", n.ID()).Msg("sent notification")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		session.Purge()
	}
	return nil
}

func parseActions(s string) []notify.Action {
	var out []notify.Action
	for _, pair := range strings.Split(s, ",") {
		key, label, ok := strings.Cut(pair, ":")
		if !ok || key == "" {
			continue
		}
		out = append(out, notify.Action{Key: key, Label: label})
	}
	return out
}

func debugServerFeatures(ctx context.Context, s *notify.Session, log zerolog.Logger) {
	// List server features!
	caps, err := s.GetCapabilities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("error fetching capabilities")
	}
	for x := range caps {
		fmt.Printf("Registered capability: %v\n", caps[x])
	}

	info, err := s.GetServerInformation(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("error getting server information")
		return
	}
	fmt.Printf("Name:    %v\n", info.Name)
	fmt.Printf("Vendor:  %v\n", info.Vendor)
	fmt.Printf("Version: %v\n", info.Version)
	fmt.Printf("Spec:    %v\n", info.SpecVersion)
}
