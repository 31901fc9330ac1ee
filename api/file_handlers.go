package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/arbor/files"
	"github.com/jmcleod/arbor/users"
)

// multipartOverhead is the allowance for multipart framing on top of the
// attachment size limit.
const multipartOverhead = 1 << 20

// ServeFile handles GET /files/{ownerId}/.../{storedName}?name=.
//
// The slug is validated before anything else; the caller must then hold a
// session for the owner named by the first segment.
func (a *API) ServeFile(w http.ResponseWriter, r *http.Request) {
	status := a.serveFile(w, r)
	a.metrics.recordFileResponse(status)
}

func (a *API) serveFile(w http.ResponseWriter, r *http.Request) int {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return http.StatusBadRequest
	}
	slug, err := files.ParseSlug(raw)
	if err != nil {
		return a.fileError(w, r, err)
	}

	id, ok := a.sessions.Get(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrAuthentication.Error())
		return http.StatusUnauthorized
	}
	if slug.Owner() != id.UserID {
		a.audit.logFailure(AuditAttachmentDenied, r, "owner mismatch", slog.String("user_id", id.UserID))
		writeError(w, http.StatusForbidden, ErrAuthorization.Error())
		return http.StatusForbidden
	}

	f, info, err := a.files.Open(r.Context(), slug)
	if err != nil {
		if errors.Is(err, files.ErrEscapesRoot) {
			a.audit.logFailure(AuditAttachmentDenied, r, "path escapes owner root", slog.String("user_id", id.UserID))
		}
		return a.fileError(w, r, err)
	}
	defer f.Close()

	ct := files.ContentTypeFor(slug.Name())
	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("Content-Disposition", files.Disposition(ct, r.URL.Query().Get("name")))
	h.Set("Cache-Control", files.CacheControl)
	h.Set("Content-Security-Policy", "default-src 'none'; sandbox")

	http.ServeContent(w, r, "", info.ModTime(), f)
	return http.StatusOK
}

func (a *API) fileError(w http.ResponseWriter, r *http.Request, err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.writeInternalError(w, r, "failed to read file", err)
		return status
	}
	writeError(w, status, http.StatusText(status))
	return status
}

// UploadFile handles POST /files. The request is multipart/form-data with
// the attachment in the "file" part.
func (a *API) UploadFile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	if _, err := a.users.Get(r.Context(), id.UserID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, ErrAuthentication.Error())
			return
		}
		a.writeInternalError(w, r, "failed to load account", err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		a.mapError(w, r, fmt.Errorf("%w: expected multipart/form-data", ErrClientInput))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			a.mapError(w, r, fmt.Errorf("%w: missing file part", ErrClientInput))
			return
		}
		if err != nil {
			a.uploadError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		ref, err := a.files.Save(r.Context(), id.UserID, part.FileName(), part, a.maxUploadBytes)
		part.Close()
		if err != nil {
			a.uploadError(w, r, err)
			return
		}

		a.metrics.recordUpload(ref.Size)
		a.audit.logEvent(AuditAttachmentUploaded, r, id.UserID, slog.Int64("size", ref.Size))
		writeJSON(w, http.StatusCreated, UploadResponse{
			OwnerID:      ref.OwnerID,
			StoredName:   ref.StoredName,
			OriginalName: ref.OriginalName,
			ContentType:  ref.ContentType,
			Size:         ref.Size,
			URL:          attachmentURL(ref),
		})
		return
	}
}

func (a *API) uploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = files.ErrTooLarge
	}
	a.mapError(w, r, err)
}

func attachmentURL(ref files.AttachmentRef) string {
	u := "/api/v1/files/" + ref.OwnerID + "/" + url.PathEscape(ref.StoredName)
	if ref.OriginalName != "" {
		u += "?name=" + url.QueryEscape(ref.OriginalName)
	}
	return u
}
