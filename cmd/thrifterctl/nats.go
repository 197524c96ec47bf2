package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WessleyAI/thrifter/engine/ingest"
	"github.com/WessleyAI/thrifter/pkg/natsutil"
)

var errNoBroker = errors.New("no NATS URL configured (set --nats or THRIFTER_NATS_URL)")

func connect(v *viper.Viper) (*nats.Conn, error) {
	url := v.GetString("nats.url")
	if url == "" {
		return nil, errNoBroker
	}
	nc, err := nats.Connect(url, nats.Name("thrifterctl"))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return nc, nil
}

// readShops accepts either a bare JSON array of shops or an object with a
// "shops" array, which is the layout of LoadRequest itself.
func readShops(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var req ingest.LoadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if req.Shops == nil {
		return nil, fmt.Errorf("decode %s: no shops array", path)
	}
	return req.Shops, nil
}

func newPublishCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a shop corpus for loading",
		Long:  "Publish the shops in a JSON file on " + ingest.LoadSubject + ". With --wait, block until the API reports the load.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, v, args[0])
		},
	}
	cmd.Flags().String("source", "thrifterctl", "source label recorded with the load")
	cmd.Flags().Bool("wait", false, "wait for the load result")
	cmd.Flags().Duration("timeout", 2*time.Minute, "how long --wait blocks")
	return cmd
}

func runPublish(cmd *cobra.Command, v *viper.Viper, path string) error {
	shops, err := readShops(path)
	if err != nil {
		return err
	}
	source, _ := cmd.Flags().GetString("source")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	nc, err := connect(v)
	if err != nil {
		return err
	}
	defer nc.Close()

	req := ingest.LoadRequest{Shops: shops, Source: source}
	out := cmd.OutOrStdout()
	if !wait {
		if err := natsutil.Publish(cmd.Context(), nc, ingest.LoadSubject, req); err != nil {
			return err
		}
		if err := nc.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		_, _ = fmt.Fprintf(out, "published %d shops from %s\n", len(shops), path)
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	res, err := natsutil.Request[ingest.LoadRequest, ingest.Indexed](ctx, nc, ingest.LoadSubject, req)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("load rejected: %s", res.Error)
	}
	_, _ = fmt.Fprintf(out, "loaded version %d: %d shops, %d indexed in %dms\n", res.Version, res.Shops, res.Indexed, res.TookMs)
	return nil
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print load results and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, v)
		},
	}
	cmd.Flags().Int("count", 0, "exit after this many events (0 runs until interrupted)")
	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	count, _ := cmd.Flags().GetInt("count")
	nc, err := connect(v)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	lines := make(chan string, 16)
	emit := func(line string) {
		select {
		case lines <- line:
		case <-ctx.Done():
		}
	}
	indexed, err := natsutil.Subscribe(nc, ingest.IndexedSubject, func(_ context.Context, ev ingest.Indexed) {
		emit(fmt.Sprintf("indexed version=%d shops=%d indexed=%d source=%s took=%dms",
			ev.Version, ev.Shops, ev.Indexed, ev.Source, ev.TookMs))
	})
	if err != nil {
		return err
	}
	defer indexed.Unsubscribe()
	dlq, err := natsutil.Subscribe(nc, ingest.DLQSubject, func(_ context.Context, dl ingest.DeadLetter) {
		emit(fmt.Sprintf("dead-letter retries=%d error=%q", dl.Retries, dl.Error))
	})
	if err != nil {
		return err
	}
	defer dlq.Unsubscribe()
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	out := cmd.OutOrStdout()
	for seen := 0; count == 0 || seen < count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			_, _ = fmt.Fprintln(out, line)
		}
	}
	return nil
}
