package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
)

// maxDiagnosticBody caps how much of a failed response is kept for logging.
const maxDiagnosticBody = 8 * 1024

// HTTPUploader posts files as multipart forms to the storage service. There are
// two endpoints: the standard one and the one reserved for original files.
type HTTPUploader struct {
	client      *http.Client
	standardURL string
	originalURL string
}

// NewHTTPUploader creates an HTTPUploader.
func NewHTTPUploader(client *http.Client, standardURL, originalURL string) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{client: client, standardURL: standardURL, originalURL: originalURL}
}

// Upload sends req.LocalPath with the form fields spaceId, path and file. A
// non-200 status, a body with an "error" key or a body without a "data"
// object is an *UploadError. There are no retries.
func (u *HTTPUploader) Upload(ctx context.Context, req Request) (Descriptor, error) {
	endpoint := u.standardURL
	if req.Original {
		endpoint = u.originalURL
	}

	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.LocalPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan error, 1)
	go func() {
		err := writeForm(mw, req, f)
		pw.CloseWithError(err)
		done <- err
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		<-done
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(httpReq)
	// Unblock the writer whether or not the transport consumed the body.
	pr.Close()
	writeErr := <-done
	if err != nil {
		return nil, fmt.Errorf("failed to post %s: %w", req.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: truncate(body), Reason: "unexpected status"}
	}
	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return nil, fmt.Errorf("failed to stream %s: %w", req.LocalPath, writeErr)
	}

	return parseResponse(resp.StatusCode, body)
}

func writeForm(mw *multipart.Writer, req Request, f io.Reader) error {
	if err := mw.WriteField("spaceId", strconv.FormatInt(req.SpaceID, 10)); err != nil {
		return err
	}
	if err := mw.WriteField("path", req.Folder); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", req.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func parseResponse(status int, body []byte) (Descriptor, error) {
	var envelope map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, &UploadError{StatusCode: status, Body: truncate(body), Reason: "malformed response"}
	}

	if _, hasError := envelope["error"]; hasError {
		return nil, &UploadError{StatusCode: status, Body: truncate(body), Reason: "error in response"}
	}

	raw, ok := envelope["data"]
	if !ok {
		return nil, &UploadError{StatusCode: status, Body: truncate(body), Reason: "missing data"}
	}

	var desc Descriptor
	dataDec := json.NewDecoder(bytes.NewReader(raw))
	dataDec.UseNumber()
	if err := dataDec.Decode(&desc); err != nil || len(desc) == 0 {
		return nil, &UploadError{StatusCode: status, Body: truncate(body), Reason: "empty data"}
	}

	return desc, nil
}

func truncate(body []byte) string {
	if len(body) > maxDiagnosticBody {
		return string(body[:maxDiagnosticBody]) + "..."
	}
	return string(body)
}
