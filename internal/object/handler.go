package object

import (
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/modelvault/service/internal/auth"
	"github.com/modelvault/service/internal/response"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling file parts to temporary files.
const multipartMemory = 32 << 20

// Handler holds HTTP handlers for object endpoints.
type Handler struct {
	svc            *Service
	maxRequestSize int64
}

// NewHandler creates a new object Handler. maxRequestSize caps a whole
// multipart upload including related files.
func NewHandler(svc *Service, maxRequestSize int64) *Handler {
	return &Handler{svc: svc, maxRequestSize: maxRequestSize}
}

// Routes mounts the object endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/", h.Create)
	r.Put("/", h.Update)
	r.Delete("/", h.Delete)
	r.Get("/stats", h.Stats)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w)
	})
}

// Get godoc
//
//	@Summary		Get or list objects
//	@Description	With id, returns that object (public). Without id, lists the caller's objects newest first, optionally filtered by search.
//	@Tags			objects
//	@Produce		json
//	@Param			id		query		int		false	"Object ID"
//	@Param			search	query		string	false	"Case-insensitive match on title or description"
//	@Success		200		{object}	response.Envelope{data=Object}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/objects [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("id") {
		id, ok := parseID(r)
		if !ok {
			response.BadRequest(w, "Invalid object ID")
			return
		}
		obj, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w, "Object retrieved successfully", obj)
		return
	}

	objects, err := h.svc.List(r.Context(), auth.IdentityFrom(r.Context()), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, "Objects retrieved successfully", objects)
}

// Stats godoc
//
//	@Summary		Storage statistics
//	@Description	Number of objects the caller owns and the total size of their primary files.
//	@Tags			objects
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=Stats}
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/objects/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, "Statistics retrieved successfully", st)
}

// Create godoc
//
//	@Summary		Upload an object
//	@Description	Upload a .obj, .mtl or .glb file with optional companion files. Companion files with other extensions are skipped.
//	@Tags			objects
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			title			formData	string	true	"Title"
//	@Param			description		formData	string	false	"Description"
//	@Param			file_type		formData	string	true	"obj, mtl or glb"
//	@Param			file			formData	file	true	"Primary file"
//	@Param			related_files[]	formData	file	false	"Companion files"
//	@Success		201				{object}	response.Envelope{data=Object}
//	@Failure		400				{object}	response.Envelope
//	@Failure		401				{object}	response.Envelope
//	@Failure		500				{object}	response.Envelope
//	@Router			/objects [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuthenticated(r.Context())
	if err != nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		response.BadRequest(w, "Content-Type must be multipart/form-data")
		return
	}

	if h.maxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, "File size exceeds maximum allowed size")
			return
		}
		response.BadRequest(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	in := CreateInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		FileKind:    r.FormValue("file_type"),
	}

	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()

	if headers := r.MultipartForm.File["file"]; len(headers) > 0 {
		f, err := headers[0].Open()
		if err != nil {
			response.BadRequest(w, "File upload error")
			return
		}
		opened = append(opened, f)
		in.Primary = &Upload{Filename: headers[0].Filename, Size: headers[0].Size, Body: f}
	}

	for _, fh := range relatedHeaders(r.MultipartForm) {
		f, err := fh.Open()
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("file", fh.Filename).Msg("open related upload")
			continue
		}
		opened = append(opened, f)
		in.Related = append(in.Related, Upload{Filename: fh.Filename, Size: fh.Size, Body: f})
	}

	obj, err := h.svc.Create(r.Context(), caller, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, "Object created successfully", obj)
}

// Update godoc
//
//	@Summary		Update an object
//	@Description	Change title and/or description of an object the caller owns.
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		query		int			true	"Object ID"
//	@Param			request	body		UpdateInput	true	"Fields to change"
//	@Success		200		{object}	response.Envelope{data=Object}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/objects [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuthenticated(r.Context())
	if err != nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	id, ok := parseID(r)
	if !ok {
		response.BadRequest(w, "Object ID is required")
		return
	}

	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON data")
		return
	}

	obj, err := h.svc.Update(r.Context(), caller, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, "Object updated successfully", obj)
}

// Delete godoc
//
//	@Summary		Delete an object
//	@Description	Delete an object the caller owns together with its stored files.
//	@Tags			objects
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	query		int	true	"Object ID"
//	@Success		200	{object}	response.Envelope
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/objects [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireAuthenticated(r.Context())
	if err != nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	id, ok := parseID(r)
	if !ok {
		response.BadRequest(w, "Object ID is required")
		return
	}

	if err := h.svc.Delete(r.Context(), caller, id); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, "Object deleted successfully", nil)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// relatedHeaders accepts companion files under "related_files[]" or "related_files".
func relatedHeaders(form *multipart.Form) []*multipart.FileHeader {
	var out []*multipart.FileHeader
	out = append(out, form.File["related_files[]"]...)
	out = append(out, form.File["related_files"]...)
	return out
}

// statusFor maps a Service error kind onto an HTTP status.
func statusFor(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindNoFieldsProvided:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound, KindNotFoundOrForbidden:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("object request failed")
		response.InternalError(w)
		return
	}
	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", string(e.Kind)).Msg("object request failed")
	}
	response.Error(w, status, e.Message)
}
