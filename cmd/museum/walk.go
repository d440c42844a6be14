package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/spf13/viper"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/editor"
	"github.com/watashi-museum/museum/internal/gallery"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/movement"
	"github.com/watashi-museum/museum/internal/museum"
	"github.com/watashi-museum/museum/internal/presence"
	"github.com/watashi-museum/museum/internal/slideshow"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/internal/viewer"
)

// runWalk opens the terminal viewer on one space. Without backend
// credentials the space is shown empty and nothing is shared.
func runWalk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("walk", flag.ContinueOnError)
	spaceID := fs.String("space", "", "space to visit (default: a new demo space)")
	editMode := fs.Bool("edit", false, "open frames for editing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *spaceID == "" {
		*spaceID = identity.NewDemoSpaceID()
	}
	Session.SetSpace(*spaceID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configured := config.BackendConfigured()
	var (
		store storage.Backend
		blobs blob.Store
	)
	if configured {
		r, err := dialRemote(Session.SessionID())
		if err != nil {
			return fmt.Errorf("connect to %s: %w", viper.GetString("api.serverUrl"), err)
		}
		defer r.Close()
		store, blobs = r.stream, r.client.Blobs()
	} else {
		Logger.Warn("Backend is not configured, visiting offline")
	}

	presenceClient := presence.New(presence.Dependencies{
		Store:  store,
		Logger: Logger,
	}, presence.Config{
		SessionID:      Session.SessionID(),
		SpaceID:        *spaceID,
		Enabled:        configured,
		PublishTimeout: viper.GetDuration("presence.publishTimeout"),
	})
	defer presenceClient.Close()
	if err := presenceClient.Subscribe(ctx); err != nil {
		Logger.Warn("Failed to subscribe to visitors", "error", err)
	}

	ctrl := movement.New()
	composer := gallery.New(gallery.Dependencies{
		Controller: ctrl,
		Director:   slideshow.New(),
		Presence:   presenceClient,
		Images:     gallery.NewProbe(nil, Logger),
		Logger:     Logger,
	}, *editMode)

	if err := museum.New(store, *spaceID, configured, Logger).Follow(ctx, composer.SetFrames); err != nil {
		return fmt.Errorf("load frames of %s: %w", *spaceID, err)
	}

	model := viewer.New(viewer.Dependencies{
		SpaceID:    *spaceID,
		Composer:   composer,
		Controller: ctrl,
		Editor:     editor.New(*spaceID, store, blobs, configured, Logger),
		Logger:     Logger,
	})
	Logger.Info("Entering space", "editMode", *editMode, "configured", configured)
	return viewer.Run(ctx, model)
}
