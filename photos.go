package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/store"
)

// Accepted upload types and the extension each is stored under.
var photoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

func photoURL(userID string) string {
	return "/photos/" + userID
}

// photoPath finds the stored file for userID, if any.
func (a *app) photoPath(userID string) (string, string, bool) {
	for ctype, ext := range photoTypes {
		path := filepath.Join(a.cfg.Uploads.Dir, userID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, ctype, true
		}
	}
	return "", "", false
}

func validUserIDSegment(id string) bool {
	return id != "" && filepath.Base(id) == id && !strings.ContainsAny(id, `/\.`)
}

// POST|DELETE /me/photo  (multipart form, field name: "file")
func myPhotoHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost, http.MethodDelete) {
			return
		}
		me, _ := callerFrom(r.Context())
		if !validUserIDSegment(me.ID) {
			writeError(w, http.StatusBadRequest, "invalid_user")
			return
		}

		profile, err := a.stores.Profiles.GetByUserID(r.Context(), me.ID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusConflict, "profile_required")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "load profile")
			return
		}

		if r.Method == http.MethodDelete {
			if err := a.removePhotoFiles(me.ID); err != nil {
				logging.For(r.Context(), a.log).Error("remove photo", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "remove_failed")
				return
			}
			profile.PhotoURL = ""
			if err := a.stores.Profiles.Save(r.Context(), profile); err != nil {
				a.writeStoreError(w, r, err, "clear photo url")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.Uploads.MaxBytes+(64<<10))
		if err := r.ParseMultipartForm(a.cfg.Uploads.MaxBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()
		if header.Size > a.cfg.Uploads.MaxBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}

		// Sniff the type from the first bytes; the client's header is not trusted.
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ext, ok := photoTypes[http.DetectContentType(head[:n])]
		if !ok {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported_image_type")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "seek_failed")
			return
		}

		if err := a.writePhoto(me.ID, ext, f); err != nil {
			logging.For(r.Context(), a.log).Error("save photo", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		profile.PhotoURL = photoURL(me.ID)
		if err := a.stores.Profiles.Save(r.Context(), profile); err != nil {
			a.writeStoreError(w, r, err, "save photo url")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"photo_url": profile.PhotoURL})
	})
}

// writePhoto replaces any earlier photo of userID through a temp file and rename.
func (a *app) writePhoto(userID, ext string, src io.Reader) error {
	if err := os.MkdirAll(a.cfg.Uploads.Dir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	dst := filepath.Join(a.cfg.Uploads.Dir, userID+ext)
	tmp, err := os.CreateTemp(a.cfg.Uploads.Dir, userID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close photo: %w", err)
	}
	if err := a.removePhotoFiles(userID); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (a *app) removePhotoFiles(userID string) error {
	for _, ext := range photoTypes {
		path := filepath.Join(a.cfg.Uploads.Dir, userID+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

// canViewPhoto allows the owner, anyone linked by an interest in either
// direction, and anyone the owner could be shown to as a match.
func (a *app) canViewPhoto(ctx context.Context, viewerID, ownerID string) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	for _, pair := range [][2]string{{viewerID, ownerID}, {ownerID, viewerID}} {
		_, err := a.stores.Interests.Get(ctx, pair[0], pair[1])
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}

	viewer, err := a.stores.Profiles.GetByUserID(ctx, viewerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	owner, err := a.stores.Profiles.GetByUserID(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return viewer.Gender == owner.Gender.Opposite(), nil
}

// GET /photos/{id}
func photoHandler(a *app) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		parts := pathParts(r)
		if len(parts) != 2 || parts[0] != "photos" || !validUserIDSegment(parts[1]) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		ownerID := parts[1]
		me, _ := callerFrom(r.Context())

		ok, err := a.canViewPhoto(r.Context(), me.ID, ownerID)
		if err != nil {
			a.writeStoreError(w, r, err, "check photo access")
			return
		}
		// 404 rather than 403 so the photo's existence is not revealed.
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		path, ctype, found := a.photoPath(ownerID)
		if !found {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeFile(w, r, path)
	})
}
