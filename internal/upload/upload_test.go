package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

func TestValidateAcceptsContentTypeOrExtension(t *testing.T) {
	if err := Validate("rechnungen.bin", "text/csv; charset=utf-8", 1024); err != nil {
		t.Fatalf("expected csv content type to pass, got %v", err)
	}
	if err := Validate("Rechnungen.XLSX", "application/octet-stream", 1024); err != nil {
		t.Fatalf("expected xlsx extension to pass, got %v", err)
	}
	if err := Validate("notes.pdf", "application/pdf", 1024); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected pdf to be rejected, got %v", err)
	}
	if err := Validate("empty.csv", "text/csv", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected empty file to be rejected, got %v", err)
	}
	if err := Validate("limit.csv", "text/csv", MaxFileSize); err != nil {
		t.Fatalf("expected file at the limit to pass, got %v", err)
	}
}

func TestOversizedFileRejectedBeforeNetworkCall(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	file := File{
		Name:        "big.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     make([]byte, 6_500_000),
	}

	_, err := client.Upload(context.Background(), "process-1", file)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no request to reach the endpoint, got %d", hits)
	}
}

func TestUploadPostsMultipartAndDecodesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got := r.FormValue("processId"); got != "process-7" {
			t.Errorf("expected processId field, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "rechnungen.csv" || string(content) != "phone;invoice;amount\n" {
			t.Errorf("unexpected file %q with %q", header.Filename, content)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows_uploaded":2,"parsed_rows":[
			{"mandant_phone":"+49151000001","invoice_number":"INV-1","amount":"12,50"},
			{"id":"x2","mandant_phone":"+49151000002","invoice_number":"INV-2","amount":80}
		]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	result, err := client.Upload(context.Background(), "process-7", File{
		Name:        "rechnungen.csv",
		ContentType: "text/csv",
		Content:     []byte("phone;invoice;amount\n"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.RowsUploaded != 2 || len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d/%d", result.RowsUploaded, len(result.Rows))
	}
	if result.Rows[0].Amount != 12.5 || result.Rows[1].Amount != 80 {
		t.Fatalf("unexpected amounts: %+v", result.Rows)
	}
	if result.Rows[1].ID != "x2" || result.Rows[0].ID != "" {
		t.Fatalf("unexpected ids: %+v", result.Rows)
	}
}

func TestUploadFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "parser crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	_, err := client.Upload(context.Background(), "process-1", File{Name: "a.csv", ContentType: "text/csv", Content: []byte("x")})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestUploadFailureMasksPhoneNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid row","mandant_phone":"+49 170 1234567"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	_, err := client.Upload(context.Background(), "process-1", File{Name: "a.csv", ContentType: "text/csv", Content: []byte("x")})
	if err == nil {
		t.Fatalf("expected upload error")
	}
	if strings.Contains(err.Error(), "1234567") {
		t.Fatalf("expected phone number to be masked, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid row") {
		t.Fatalf("expected endpoint message to be kept, got %v", err)
	}
}

func TestUploadWithoutEndpoint(t *testing.T) {
	client := NewClient(ClientConfig{})
	_, err := client.Upload(context.Background(), "process-1", File{Name: "a.csv", ContentType: "text/csv", Content: []byte("x")})
	if !errors.Is(err, ErrUploadUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestDecodeResultFallsBackToLegacyKey(t *testing.T) {
	result, err := DecodeResult([]byte(`{"rows_uploaded":1,"supabase_response":[{"mandant_phone":"+4930","invoice_number":"A-1","amount":-5}]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0].InvoiceNumber != "A-1" {
		t.Fatalf("expected legacy rows to be read, got %+v", result.Rows)
	}
	if result.Rows[0].Amount != 0 {
		t.Fatalf("expected negative amount to become 0, got %v", result.Rows[0].Amount)
	}

	empty, err := DecodeResult([]byte(`{"rows_uploaded":0}`))
	if err != nil || len(empty.Rows) != 0 {
		t.Fatalf("expected empty result, got %+v err=%v", empty, err)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	value := strings.Repeat("a", 299) + "ü" + "tail"
	got := truncate(value, 300)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid utf-8, got %q", got)
	}
	if got != strings.Repeat("a", 299) {
		t.Fatalf("expected cut before the split rune, got %d bytes", len(got))
	}
	if truncate("kurz", 300) != "kurz" {
		t.Fatalf("expected short values untouched")
	}
}

func TestUploadFailureMessageStaysValidUTF8(t *testing.T) {
	body := strings.Repeat("Ä", 400)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, body, http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	_, err := client.Upload(context.Background(), "process-1", File{Name: "a.csv", ContentType: "text/csv", Content: []byte("x")})
	if err == nil {
		t.Fatalf("expected upload error")
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("expected error message to be valid utf-8")
	}
}
