package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/upload"
)

const multipartMemory = 1 << 20

// Amount travels as text so the dataset can apply its own parsing rules.
type updateRowRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (api *API) GetDataset(w http.ResponseWriter, r *http.Request) {
	view, err := api.processes.Dataset(r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) AddDatasetRow(w http.ResponseWriter, r *http.Request) {
	row, err := api.processes.AddDatasetRow(r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (api *API) UpdateDatasetRow(w http.ResponseWriter, r *http.Request) {
	var request updateRowRequest
	if err := decodeJSON(r, &request); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	field := dataset.Field(strings.TrimSpace(request.Field))
	view, err := api.processes.SetDatasetField(r.PathValue("id"), r.PathValue("rowID"), field, request.Value)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) DeleteDatasetRow(w http.ResponseWriter, r *http.Request) {
	view, err := api.processes.DeleteDatasetRow(r.PathValue("id"), r.PathValue("rowID"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) CommitDataset(w http.ResponseWriter, r *http.Request) {
	view, err := api.processes.CommitDataset(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) DiscardDataset(w http.ResponseWriter, r *http.Request) {
	view, err := api.processes.DiscardDataset(r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) DatasetChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := api.processes.DatasetChanges(r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// UploadDataset reads the multipart "file" field and imports it. Bodies
// larger than the file limit are cut off before the parser endpoint sees
// anything.
func (api *API) UploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || r.ContentLength > upload.MaxFileSize+multipartMemory {
			api.writeServiceError(w, r, domain.NewValidationError("file", "file too large, maximum size: 5MB"))
			return
		}
		api.writeServiceError(w, r, errInvalidPayload)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.writeServiceError(w, r, domain.NewValidationError("file", "file is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, upload.MaxFileSize+1))
	if err != nil {
		api.writeServiceError(w, r, errInvalidPayload)
		return
	}

	outcome, err := api.processes.Upload(r.Context(), r.PathValue("id"), upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
