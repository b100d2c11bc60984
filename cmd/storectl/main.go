// Package main provides storectl, a maintenance tool for inspecting and
// editing an actor's storage through the storage facade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/louisbranch/actorstore/internal/actor"
	"github.com/louisbranch/actorstore/internal/metrics"
	"github.com/louisbranch/actorstore/internal/platform/config"
	otelsetup "github.com/louisbranch/actorstore/internal/platform/otel"
	"github.com/louisbranch/actorstore/internal/storage"
	"github.com/louisbranch/actorstore/internal/storage/bolt"
	"github.com/louisbranch/actorstore/internal/storage/memory"
	"github.com/louisbranch/actorstore/internal/storage/sqlite"
)

const usage = `usage: storectl [flags] <command> [args]

commands:
  get <key>            print the decoded value stored under key
  put <key> <value>    store a string value under key
  delete <key>         delete key, reporting whether it existed
  list [prefix]        print stored entries, optionally under a prefix
  alarm                print the scheduled alarm time, if any
  set-alarm <rfc3339>  schedule the alarm
  wipe                 delete every key

flags:
`

func main() {
	var cfg config.CLI
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("storectl: %v", err)
	}

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	engineName := flag.String("engine", cfg.Engine, "storage engine (memory, bolt, sqlite)")
	path := flag.String("path", cfg.Path, "database path for the bolt and sqlite engines")
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otelsetup.Setup(ctx, "storectl")
	if err != nil {
		config.Exitf("storectl: otel setup: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "storectl: otel shutdown: %v\n", err)
		}
	}()

	engine, closeEngine, err := openEngine(*engineName, *path)
	if err != nil {
		config.Exitf("storectl: %v", err)
	}
	defer closeEngine()

	sink, err := metrics.NewOTel(otel.Meter("actorstore"))
	if err != nil {
		config.Exitf("storectl: metrics: %v", err)
	}
	store := actor.New(actor.Config{
		Engine:          engine,
		Sink:            sink,
		HasAlarmHandler: cfg.HasAlarmHandler,
	})
	defer store.Drain()

	if err := run(ctx, store, flag.Args()); err != nil {
		config.Exitf("storectl: %v", err)
	}
}

func openEngine(name, path string) (storage.Engine, func(), error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "memory":
		return memory.New(memory.Options{}), func() {}, nil
	case "bolt":
		e, err := bolt.Open(path, bolt.Options{})
		if err != nil {
			return nil, nil, err
		}
		return e, func() { _ = e.Close() }, nil
	case "sqlite":
		e, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { _ = e.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine %q", name)
	}
}

func run(ctx context.Context, store *actor.Storage, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get requires exactly one key")
		}
		fut, err := store.Get(ctx, rest[0], actor.GetOptions{})
		if err != nil {
			return err
		}
		value, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		if value == nil {
			fmt.Println("(none)")
			return nil
		}
		fmt.Printf("%v\n", value)
		return nil

	case "put":
		if len(rest) != 2 {
			return fmt.Errorf("put requires a key and a value")
		}
		fut, err := store.Put(ctx, rest[0], rest[1], actor.PutOptions{})
		if err != nil {
			return err
		}
		_, err = fut.Await(ctx)
		return err

	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("delete requires exactly one key")
		}
		fut, err := store.Delete(ctx, rest[0], actor.PutOptions{})
		if err != nil {
			return err
		}
		existed, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("existed: %v\n", existed)
		return nil

	case "list":
		opts := actor.ListOptions{}
		if len(rest) > 0 {
			opts.Prefix = rest[0]
		}
		fut, err := store.List(ctx, opts)
		if err != nil {
			return err
		}
		entries, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%s\t%v\n", entry.Key, entry.Value)
		}
		return nil

	case "alarm":
		fut, err := store.GetAlarm(ctx, actor.GetAlarmOptions{})
		if err != nil {
			return err
		}
		alarm, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		if alarm == nil {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(alarm.Format(time.RFC3339))
		return nil

	case "set-alarm":
		if len(rest) != 1 {
			return fmt.Errorf("set-alarm requires an RFC3339 timestamp")
		}
		at, err := time.Parse(time.RFC3339, rest[0])
		if err != nil {
			return fmt.Errorf("parse alarm time: %w", err)
		}
		fut, err := store.SetAlarm(ctx, at, actor.SetAlarmOptions{})
		if err != nil {
			return err
		}
		_, err = fut.Await(ctx)
		return err

	case "wipe":
		fut, err := store.DeleteAll(ctx, actor.PutOptions{})
		if err != nil {
			return err
		}
		count, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted: %d\n", count)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
