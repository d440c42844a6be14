package main

import (
	"compress/gzip"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/storage"
)

// runToken issues a curator token signed with auth.secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id; curators may edit the space with the same id")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.tokenTTL)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	authCfg := config.GetAuthConfig()
	if authCfg.Secret == "" {
		return errors.New("auth.secret is not set")
	}
	lifetime := authCfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, expires, err := identity.NewProvider(authCfg.Secret, lifetime).Issue(*user, *name)
	if err != nil {
		return err
	}
	Logger.Info("Token issued", "user", *user, "expiresAt", expires)
	_, err = fmt.Fprintln(out, token)
	return err
}

// runExport prints the frames of one space from the configured backend.
func runExport(ctx context.Context, args []string, out io.Writer) (err error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	compress := fs.Bool("gzip", false, "gzip the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("export takes exactly one space id")
	}
	space := fs.Arg(0)

	backend, closeDB, err := createStorageBackend(config.GetStorageConfig())
	if err != nil {
		return err
	}
	defer closeDB()
	if err := backend.Init(); err != nil {
		return err
	}
	defer backend.Close()

	w := out
	if *compress {
		gz := gzip.NewWriter(out)
		defer func() {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}()
		w = gz
	}

	if err := storage.ExportFrames(ctx, w, backend, space); err != nil {
		return fmt.Errorf("export %s: %w", space, err)
	}
	Logger.Info("Frames exported", "space", space)
	return nil
}
