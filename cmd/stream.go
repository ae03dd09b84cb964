package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/archnodes/internal/config"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/presentation"
	"github.com/zjrosen/archnodes/internal/provider"
	"github.com/zjrosen/archnodes/internal/resolver"
	"github.com/zjrosen/archnodes/internal/watcher"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Resolve JSON lines from stdin",
	Long: `Read one JSON descriptor per line from stdin and write one JSON result
per line to stdout, keeping the discovery index warm between requests.

  echo '{"id":"ec2","provider":"aws"}' | archnodes stream

With watch.enabled (or --watch) catalog and library changes trigger a
refresh; results after the refresh see the new state.`,
	Args: cobra.NoArgs,
	RunE: runStreamCmd,
}

func init() {
	streamCmd.Flags().Bool("watch", false, "refresh when catalogs or the library change")
	streamCmd.Flags().StringP("provider", "p", "aws", "provider of lines that omit one")
	rootCmd.AddCommand(streamCmd)
}

func runStreamCmd(cmd *cobra.Command, _ []string) error {
	fallback, _ := cmd.Flags().GetString("provider")
	p, err := provider.Parse(fallback)
	if err != nil {
		return err
	}
	c := cfg
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		c.Watch.Enabled = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = e.close(context.WithoutCancel(ctx)) }()

	g, gctx := errgroup.WithContext(ctx)
	streamCtx, done := context.WithCancel(gctx)

	if c.Watch.Enabled {
		onChange, stopWatch, err := startWatch(c)
		if err != nil {
			done()
			return err
		}
		defer func() { _ = stopWatch() }()
		g.Go(func() error {
			refreshOnChange(streamCtx, e.resolver, onChange)
			return nil
		})
	}

	g.Go(func() error {
		defer done()
		return stream(streamCtx, e.resolver, p, cmd.InOrStdin(), cmd.OutOrStdout())
	})
	return g.Wait()
}

func startWatch(c config.Config) (<-chan struct{}, func() error, error) {
	paths := watchPaths(c)
	if len(paths) == 0 {
		log.Warn(log.CatWatcher, "Nothing to watch with embedded catalogs and library")
		return nil, func() error { return nil }, nil
	}
	wc := watcher.DefaultConfig(paths...)
	if c.Watch.Debounce > 0 {
		wc.DebounceDur = c.Watch.Debounce
	}
	w, err := watcher.New(wc)
	if err != nil {
		return nil, nil, fmt.Errorf("watch: %w", err)
	}
	onChange, err := w.Start()
	if err != nil {
		return nil, nil, fmt.Errorf("watch: %w", err)
	}
	return onChange, w.Stop, nil
}

// refreshOnChange refreshes r after every change notification until ctx ends.
// A nil channel never fires.
func refreshOnChange(ctx context.Context, r *resolver.Resolver, onChange <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-onChange:
			if err := r.Refresh(ctx); err != nil {
				log.ErrorErr(log.CatWatcher, "Refresh after change failed", err)
			}
		}
	}
}

// stream resolves one JSON descriptor per input line and writes one JSON
// result per line. Lines that cannot be decoded or resolved produce a result
// carrying the error; the stream continues.
func stream(ctx context.Context, r *resolver.Resolver, fallback provider.Provider, in io.Reader, out io.Writer) error {
	f := presentation.NewFormatter(out, presentation.FormatLines)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var d resolver.Descriptor
		if err := json.Unmarshal(line, &d); err != nil {
			if err := f.FormatResult(presentation.FromError(d, fmt.Errorf("decode descriptor: %w", err))); err != nil {
				return err
			}
			continue
		}
		if d.Provider == "" {
			d.Provider = fallback
		}

		dto := resolveOne(ctx, r, d)
		if err := f.FormatResult(dto); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func resolveOne(ctx context.Context, r *resolver.Resolver, d resolver.Descriptor) presentation.ResultDTO {
	res, err := r.Resolve(ctx, d)
	if err != nil {
		log.ErrorErr(log.CatResolve, "Resolve failed", err, "id", d.ID, "provider", d.Provider)
		return presentation.FromError(d, err)
	}
	return presentation.FromResult(res)
}
