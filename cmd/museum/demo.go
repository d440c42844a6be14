package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/watashi-museum/museum/internal/api"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/gallery"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/pkg/core"
)

// runDemo creates a demo space and hangs the given picture URLs on its
// frames in layout order. Demo spaces take writes from anyone.
func runDemo(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	prefix := fs.String("title", "Picture", "title prefix of the hung pictures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls := fs.Args()
	slots := gallery.Layout()
	if len(urls) > len(slots) {
		return fmt.Errorf("a space has %d frames, got %d pictures", len(slots), len(urls))
	}

	spaceID := identity.NewDemoSpaceID()
	Session.SetSpace(spaceID)

	if len(urls) > 0 {
		if !config.BackendConfigured() {
			return fmt.Errorf("cannot hang pictures: the museum backend is not configured")
		}
		client := api.New(strings.TrimRight(viper.GetString("api.serverUrl"), "/"), "")
		for i, u := range urls {
			rec := core.FrameRecord{Title: fmt.Sprintf("%s %d", *prefix, i+1), ImageURL: u}
			if err := client.PutFrame(ctx, spaceID, slots[i].ID, rec); err != nil {
				return fmt.Errorf("hang %s on %s: %w", u, slots[i].ID, err)
			}
		}
		Logger.Info("Demo space seeded", "frames", len(urls))
	}

	_, err := fmt.Fprintln(out, spaceID)
	return err
}
