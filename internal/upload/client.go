package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iago/outreach-dashboard-back/internal/dataset"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/policy"
)

var ErrUploadUnavailable = errors.New("upload endpoint not configured")

const maxErrorBodyBytes = 300

// UserMessage is the single message shown for any failed upload.
const UserMessage = "upload failed, please try again"

type File struct {
	Name        string
	ContentType string
	Content     []byte
}

type Result struct {
	RowsUploaded int
	Rows         []domain.InvoiceRecord
	Raw          json.RawMessage
}

type Uploader interface {
	Upload(ctx context.Context, processID string, file File) (Result, error)
	Available() bool
}

type ClientConfig struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		endpoint:   strings.TrimSpace(config.Endpoint),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *Client) Available() bool {
	return c != nil && c.endpoint != ""
}

// Upload validates the file and posts it as multipart form data. Any failure
// after validation is a TransportError; there are no retries.
func (c *Client) Upload(ctx context.Context, processID string, file File) (Result, error) {
	if err := Validate(file.Name, file.ContentType, int64(len(file.Content))); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(processID) == "" {
		return Result{}, domain.NewValidationError("process_id", "process id is required")
	}
	if !c.Available() {
		return Result{}, ErrUploadUnavailable
	}

	body, contentType, err := encodeForm(processID, file)
	if err != nil {
		return Result{}, fmt.Errorf("encode upload form: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("create upload request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", contentType)
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Result{}, &domain.TransportError{Op: "upload", Err: err}
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return Result{}, &domain.TransportError{Op: "upload", Err: fmt.Errorf("read body: %w", err)}
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := truncate(strings.TrimSpace(string(policy.MaskPIIJSON(payload))), maxErrorBodyBytes)
		return Result{}, &domain.TransportError{
			Op:  "upload",
			Err: fmt.Errorf("status %d: %s", httpResponse.StatusCode, message),
		}
	}

	result, err := DecodeResult(payload)
	if err != nil {
		return Result{}, &domain.TransportError{Op: "upload", Err: err}
	}
	return result, nil
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func encodeForm(processID string, file File) (*bytes.Buffer, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("processId", processID); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buffer, writer.FormDataContentType(), nil
}

type uploadResponse struct {
	RowsUploaded     int             `json:"rows_uploaded"`
	ParsedRows       json.RawMessage `json:"parsed_rows"`
	SupabaseResponse json.RawMessage `json:"supabase_response"`
}

type wireRow struct {
	ID            string          `json:"id"`
	MandantPhone  string          `json:"mandant_phone"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        json.RawMessage `json:"amount"`
}

// DecodeResult reads the parser endpoint response. Rows come from
// parsed_rows, or from supabase_response when only the older key is present.
func DecodeResult(payload []byte) (Result, error) {
	var response uploadResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}

	raw := response.ParsedRows
	if isEmptyJSON(raw) {
		raw = response.SupabaseResponse
	}

	rows := []domain.InvoiceRecord{}
	if !isEmptyJSON(raw) {
		var decoded []wireRow
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return Result{}, fmt.Errorf("decode parsed rows: %w", err)
		}
		for _, row := range decoded {
			rows = append(rows, domain.InvoiceRecord{
				ID:            strings.TrimSpace(row.ID),
				MandantPhone:  strings.TrimSpace(row.MandantPhone),
				InvoiceNumber: strings.TrimSpace(row.InvoiceNumber),
				Amount:        decodeAmount(row.Amount),
			})
		}
	}

	rowsUploaded := response.RowsUploaded
	if rowsUploaded == 0 {
		rowsUploaded = len(rows)
	}
	return Result{
		RowsUploaded: rowsUploaded,
		Rows:         rows,
		Raw:          append(json.RawMessage(nil), raw...),
	}, nil
}

func decodeAmount(raw json.RawMessage) float64 {
	if isEmptyJSON(raw) {
		return 0
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return dataset.ParseAmount(text)
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return dataset.ParseAmount(strconv.FormatFloat(number, 'f', -1, 64))
	}
	return 0
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
