package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mailcheck/internal"
	"mailcheck/internal/account"
	"mailcheck/internal/backend"
	"mailcheck/internal/pipeline"
	"mailcheck/internal/storage"
)

type Verifier interface {
	InspectFile(file internal.UploadedFile, firstRowHasLabels bool) (pipeline.Inspection, error)
	SubmitUpload(ctx context.Context, userID string, files []internal.UploadedFile, meta []internal.FileMeta) (pipeline.UploadResult, error)
	SubmitManual(ctx context.Context, userID, raw string) (pipeline.ManualResult, error)
	Summary(ctx context.Context, userID, batchID string) (internal.UploadSummary, error)
	ListUploads(ctx context.Context, userID string, limit int) ([]internal.UploadBatch, error)
	TaskDetail(ctx context.Context, taskID string) (*internal.TaskDetail, error)
}

type Accounts interface {
	Credits(ctx context.Context, userID string) (internal.Credits, error)
	Usage(ctx context.Context, userID string, days int) ([]internal.UsagePoint, error)
	History(ctx context.Context, userID string, page int) (internal.HistoryPage, error)
	Purchases(ctx context.Context, userID string) ([]internal.Purchase, error)
	APIKeys(ctx context.Context, userID string) ([]internal.APIKey, error)
	CreateAPIKey(ctx context.Context, userID, name string) (internal.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, id string) error
	Profile(ctx context.Context, userID string) (internal.Profile, error)
	UpdateProfile(ctx context.Context, userID string, p internal.Profile) (internal.Profile, error)
	SignOut(userID string) int
}

// StatusStore exposes the metadata the poller records after each cycle.
type StatusStore interface {
	GetMetadata(ctx context.Context, key string) (*string, error)
}

type Limits struct {
	MaxFiles int
	MaxBytes int64
}

type Handler struct {
	verifier Verifier
	accounts Accounts
	status   StatusStore
	limits   Limits
	Log      *slog.Logger
}

func NewHandler(verifier Verifier, accounts Accounts, status StatusStore, limits Limits, log *slog.Logger) *Handler {
	return &Handler{verifier: verifier, accounts: accounts, status: status, limits: limits, Log: log}
}

const userKey = "userID"

// Identity reads the gateway-provided user id and bearer token. Both are
// required. The token is the only credential used for backend calls made on
// behalf of this request.
func (h *Handler) Identity(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		h.fail(c, http.StatusUnauthorized, errors.New("missing X-User-ID header"), nil)
		c.Abort()
		return
	}
	token, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token = strings.TrimSpace(token); token == "" {
		h.fail(c, http.StatusUnauthorized, errors.New("missing bearer token"), nil)
		c.Abort()
		return
	}

	c.Set(userKey, userID)
	c.Request = c.Request.WithContext(backend.WithAccessToken(c.Request.Context(), token))
	c.Next()
}

func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.status != nil {
		last, err := h.status.GetMetadata(c.Request.Context(), storage.KeyPollerLastCycle)
		if err != nil {
			h.fail(c, http.StatusServiceUnavailable, fmt.Errorf("read poller status: %w", err), nil)
			return
		}
		resp.PollerLastCycle = last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Columns(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}
	file, err := h.readUpload(fh)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}

	res, err := h.verifier.InspectFile(file, formBool(c.PostForm("has_header"), true))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Normalize(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}
	c.JSON(http.StatusOK, NormalizeResponse{Emails: pipeline.NormalizeEmails(req.Text)})
}

func (h *Handler) VerifyManual(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}
	res, err := h.verifier.SubmitManual(c.Request.Context(), c.GetString(userKey), req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Upload(c *gin.Context) {
	if h.limits.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.limits.MaxBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, err, map[string]any{"maxBytes": tooLarge.Limit})
			return
		}
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		h.fail(c, http.StatusBadRequest, errors.New("no files in request"), nil)
		return
	}
	if h.limits.MaxFiles > 0 && len(headers) > h.limits.MaxFiles {
		h.fail(c, http.StatusBadRequest, fmt.Errorf("at most %d files per upload", h.limits.MaxFiles), map[string]any{"files": len(headers)})
		return
	}

	columns := form.Value["email_column"]
	hasHeader := form.Value["has_header"]
	files := make([]internal.UploadedFile, 0, len(headers))
	meta := make([]internal.FileMeta, 0, len(headers))
	for i, fh := range headers {
		file, err := h.readUpload(fh)
		if err != nil {
			h.fail(c, http.StatusBadRequest, err, nil)
			return
		}
		files = append(files, file)

		m := internal.FileMeta{EmailColumn: "A", HasHeader: true}
		if i < len(columns) && strings.TrimSpace(columns[i]) != "" {
			m.EmailColumn = strings.ToUpper(strings.TrimSpace(columns[i]))
		}
		if i < len(hasHeader) {
			m.HasHeader = formBool(hasHeader[i], true)
		}
		meta = append(meta, m)
	}

	res, err := h.verifier.SubmitUpload(c.Request.Context(), c.GetString(userKey), files, meta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListUploads(c *gin.Context) {
	res, err := h.verifier.ListUploads(c.Request.Context(), c.GetString(userKey), queryInt(c, "limit", 50))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UploadSummary(c *gin.Context) {
	res, err := h.verifier.Summary(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Task(c *gin.Context) {
	detail, err := h.verifier.TaskDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, TaskResponse{
		Task:   detail,
		Counts: pipeline.AggregateJobs(detail.Jobs),
		Status: pipeline.DeriveStatus(detail),
	})
}

func (h *Handler) ExportTask(c *gin.Context) {
	taskID := c.Param("id")
	detail, err := h.verifier.TaskDetail(c.Request.Context(), taskID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var render func(*internal.TaskDetail, io.Writer) error
	var contentType, ext string
	switch strings.ToLower(c.DefaultQuery("format", "xlsx")) {
	case "xlsx":
		render, contentType, ext = pipeline.ExportTaskXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	case "csv":
		render, contentType, ext = pipeline.ExportTaskCSV, "text/csv; charset=utf-8", "csv"
	default:
		h.fail(c, http.StatusBadRequest, fmt.Errorf("unsupported export format %q", c.Query("format")), nil)
		return
	}

	var buf bytes.Buffer
	if err := render(detail, &buf); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "task-" + taskID + "." + ext}))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *Handler) Credits(c *gin.Context) {
	res, err := h.accounts.Credits(c.Request.Context(), c.GetString(userKey))
	h.respond(c, res, err)
}

func (h *Handler) Usage(c *gin.Context) {
	res, err := h.accounts.Usage(c.Request.Context(), c.GetString(userKey), queryInt(c, "days", 30))
	h.respond(c, res, err)
}

func (h *Handler) History(c *gin.Context) {
	res, err := h.accounts.History(c.Request.Context(), c.GetString(userKey), queryInt(c, "page", 1))
	h.respond(c, res, err)
}

func (h *Handler) Purchases(c *gin.Context) {
	res, err := h.accounts.Purchases(c.Request.Context(), c.GetString(userKey))
	h.respond(c, res, err)
}

func (h *Handler) APIKeys(c *gin.Context) {
	res, err := h.accounts.APIKeys(c.Request.Context(), c.GetString(userKey))
	h.respond(c, res, err)
}

func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}
	res, err := h.accounts.CreateAPIKey(c.Request.Context(), c.GetString(userKey), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) RevokeAPIKey(c *gin.Context) {
	if err := h.accounts.RevokeAPIKey(c.Request.Context(), c.GetString(userKey), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Profile(c *gin.Context) {
	res, err := h.accounts.Profile(c.Request.Context(), c.GetString(userKey))
	h.respond(c, res, err)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req internal.Profile
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, err, nil)
		return
	}
	res, err := h.accounts.UpdateProfile(c.Request.Context(), c.GetString(userKey), req)
	h.respond(c, res, err)
}

func (h *Handler) SignOut(c *gin.Context) {
	c.JSON(http.StatusOK, SignOutResponse{Evicted: h.accounts.SignOut(c.GetString(userKey))})
}

func (h *Handler) respond(c *gin.Context, res any, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// respondError maps domain errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var fileErr *pipeline.FileError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &fileErr):
		h.fail(c, http.StatusUnprocessableEntity, err, fileErr.Details)
	case errors.Is(err, pipeline.ErrNoEmails), errors.Is(err, pipeline.ErrTaskPending):
		h.fail(c, http.StatusUnprocessableEntity, err, nil)
	case errors.Is(err, storage.ErrNotFound):
		h.fail(c, http.StatusNotFound, err, nil)
	case errors.Is(err, account.ErrNoUser), errors.Is(err, backend.ErrNoAccessToken):
		h.fail(c, http.StatusUnauthorized, err, nil)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		h.fail(c, status, err, nil)
	default:
		h.fail(c, http.StatusInternalServerError, err, nil)
	}
}

func (h *Handler) fail(c *gin.Context, status int, err error, details map[string]any) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	h.Log.Log(c.Request.Context(), level, "request failed",
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	c.JSON(status, ErrorResponse{
		Request: c.Request.URL.Path,
		Error:   err.Error(),
		Details: details,
	})
}

func (h *Handler) readUpload(fh *multipart.FileHeader) (internal.UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return internal.UploadedFile{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return internal.UploadedFile{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return internal.UploadedFile{Name: fh.Filename, Size: fh.Size, Content: content}, nil
}

func formBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
