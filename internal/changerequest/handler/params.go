package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"changeflow/internal/blob"
	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

// maxUploadBytes leaves room for multipart framing around the largest accepted document.
const maxUploadBytes = blob.MaxDocumentSize + 1<<20

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid change request id")
	}
	return id, nil
}

func parseInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, key+" must be an integer")
	}
	return v, nil
}

func parseBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeBadRequest, key+" must be true or false")
	}
	return v, nil
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if d, derr := time.Parse(time.DateOnly, raw); derr == nil {
			return &d, nil
		}
		return nil, dErrors.New(dErrors.CodeBadRequest, key+" must be an RFC 3339 timestamp or a date")
	}
	return &t, nil
}

// parsePaging reads limit and offset. Bounds are applied by the search filter.
func parsePaging(r *http.Request) (limit, offset int, err error) {
	if limit, err = parseInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = parseInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	if limit > models.MaxSearchLimit {
		limit = models.MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}

func parseSearchFilter(r *http.Request) (*models.SearchFilter, error) {
	q := r.URL.Query()
	limit, offset, err := parsePaging(r)
	if err != nil {
		return nil, err
	}
	stage, err := parseInt(r, "stage")
	if err != nil {
		return nil, err
	}
	requestedBy, err := parseInt(r, "requested_by")
	if err != nil {
		return nil, err
	}
	from, err := parseTime(r, "created_from")
	if err != nil {
		return nil, err
	}
	to, err := parseTime(r, "created_to")
	if err != nil {
		return nil, err
	}

	return &models.SearchFilter{
		Status:      models.Status(q.Get("status")),
		Stage:       models.Stage(stage),
		Priority:    models.Priority(q.Get("priority")),
		Category:    q.Get("category"),
		RequestedBy: int64(requestedBy),
		Query:       q.Get("q"),
		CreatedFrom: from,
		CreatedTo:   to,
		Limit:       limit,
		Offset:      offset,
	}, nil
}

// readUpload reads the "file" part and the "file_kind" field of a multipart form. The MIME
// type is sniffed from the content; the client's Content-Type header is ignored.
func readUpload(w http.ResponseWriter, r *http.Request) (*models.AttachmentUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeValidation, "file exceeds the maximum upload size")
		}
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid multipart form")
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read uploaded file")
	}

	kind := r.FormValue("file_kind")
	if kind == "" {
		kind = string(models.FileKindDocument)
	}
	return &models.AttachmentUpload{
		FileKind:     models.FileKind(kind),
		OriginalName: header.Filename,
		MimeType:     blob.Detect(data),
		Data:         data,
	}, nil
}
