package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
)

const maxErrorWidth = 60

type requeuer interface {
	Requeue(ctx context.Context, ids []string) ([]string, error)
}

type admin struct {
	queue    shared.QueueStore
	requeuer requeuer
	pub      shared.Publisher
	out      io.Writer
}

func (a *admin) list(ctx context.Context, limit int) error {
	entries, err := a.queue.ListFailedWebhooks(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECEIVED\tASPECT\tOBJECT\tATHLETE\tATTEMPTS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.ID, e.ReceivedAt.Format(time.RFC3339), e.AspectType, e.ObjectID, e.OwnerID, e.Attempts, clip(e.Error, maxErrorWidth))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d failed entries\n", len(entries))
	return nil
}

// requeue resets the entries and publishes a fresh trigger for each.
func (a *admin) requeue(ctx context.Context, ids []string, all bool) error {
	if all {
		entries, err := a.queue.ListFailedWebhooks(ctx, 0)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "nothing to requeue")
		return nil
	}

	reset, err := a.requeuer.Requeue(ctx, ids)
	for _, id := range reset {
		evt, evtErr := infrapubsub.NewQueueEvent(id)
		if evtErr != nil {
			return evtErr
		}
		if _, pubErr := a.pub.PublishCloudEvent(ctx, shared.TopicWebhookQueue, evt); pubErr != nil {
			return fmt.Errorf("publish %s: %w", id, pubErr)
		}
		fmt.Fprintf(a.out, "requeued %s\n", id)
	}
	return err
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
