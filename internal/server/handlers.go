package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/watashi-museum/museum/internal/api"
	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

func (s *Server) healthcheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "museum",
	})
}

func (s *Server) issueToken(c echo.Context) error {
	if s.deps.IssuerKey == "" || s.deps.Tokens == nil {
		return echo.NewHTTPError(http.StatusNotFound, "token issuing is disabled")
	}

	var req api.TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request format")
	}
	if subtle.ConstantTimeCompare([]byte(req.IssuerKey), []byte(s.deps.IssuerKey)) != 1 {
		s.deps.Logger.Warn("Token request rejected", "user", req.UserID)
		return echo.NewHTTPError(http.StatusForbidden, "invalid issuer key")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	token, expires, err := s.deps.Tokens.Issue(req.UserID, req.Name)
	if err != nil {
		return err
	}
	s.deps.Logger.Info("Token issued", "user", req.UserID)
	return c.JSON(http.StatusOK, api.TokenResponse{Token: token, ExpiresAt: expires})
}

func (s *Server) getFrames(c echo.Context) error {
	frames, err := s.deps.Store.Frames(c.Request().Context(), c.Param("space"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, frames)
}

func (s *Server) putFrame(c echo.Context) error {
	space, slot := c.Param("space"), c.Param("slot")
	if err := s.authorizeCurator(c, space); err != nil {
		return err
	}

	var frame core.FrameRecord
	if err := c.Bind(&frame); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid frame record")
	}
	if err := s.deps.Store.PutFrame(c.Request().Context(), space, slot, frame); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) uploadImage(c echo.Context) error {
	space, slot := c.Param("space"), c.Param("slot")
	if err := s.authorizeCurator(c, space); err != nil {
		return err
	}
	if !core.ValidSlotID(slot) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown frame slot")
	}
	if s.deps.Blobs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "image uploads are disabled")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	url, err := s.deps.Blobs.Put(c.Request().Context(), space, slot, path.Base(fh.Filename), f)
	if errors.Is(err, blob.ErrInvalidName) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	s.deps.Logger.Info("Image uploaded", "space", space, "slot", slot, "url", url)
	return c.JSON(http.StatusOK, api.UploadResponse{URL: url})
}

// getVisitors returns the poses written within the staleness window.
func (s *Server) getVisitors(c echo.Context) error {
	poses, err := s.deps.Store.Poses(c.Request().Context(), c.Param("space"))
	if err != nil {
		return storeError(err)
	}
	now := s.deps.Now()
	fresh := make([]core.ViewerPose, 0, len(poses))
	for _, p := range poses {
		if p.Fresh(now, core.StalenessWindow) {
			fresh = append(fresh, p)
		}
	}
	return c.JSON(http.StatusOK, fresh)
}

func (s *Server) authorizeCurator(c echo.Context, space string) error {
	if identity.CanCurate(claimsFrom(c), space) {
		return nil
	}
	if claimsFrom(c) == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "a curator token is required")
	}
	return echo.NewHTTPError(http.StatusForbidden, "not a curator of this space")
}

func storeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidSpace), errors.Is(err, storage.ErrInvalidSlot), errors.Is(err, storage.ErrInvalidSession):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
