// Command queue-admin inspects the Strava webhook inbox and requeues entries
// whose processing failed.
//
//	queue-admin list [-limit N]
//	queue-admin requeue <entry-id>...
//	queue-admin requeue -all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/webhook"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: queue-admin list [-limit N] | requeue (-all | <entry-id>...)")
	os.Exit(2)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, err := bootstrap.NewService(ctx, "queue-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	processor := svc.Processor()
	var dispatcher *webhook.LocalDispatcher
	pub := svc.Pub
	if !svc.Config.EnablePublish {
		dispatcher = webhook.NewLocalDispatcher(ctx, processor, svc.Logger)
		pub = dispatcher
	}
	a := &admin{queue: svc.DB, requeuer: processor, pub: pub, out: os.Stdout}

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		limit := fs.Int("limit", 100, "maximum entries to show")
		_ = fs.Parse(args)
		err = a.list(ctx, *limit)
	case "requeue":
		fs := flag.NewFlagSet("requeue", flag.ExitOnError)
		all := fs.Bool("all", false, "requeue every failed entry")
		_ = fs.Parse(args)
		if !*all && fs.NArg() == 0 {
			usage()
		}
		err = a.requeue(ctx, fs.Args(), *all)
	default:
		usage()
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
