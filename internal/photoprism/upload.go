package photoprism

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// addFileToMultipart opens a file and writes it to the multipart writer.
func addFileToMultipart(writer *multipart.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("could not open file %s: %w", filePath, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("files", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("could not copy file data: %w", err)
	}
	return nil
}

// UploadFiles uploads files to the user's upload folder and returns the
// upload token needed by ProcessUpload.
func (pp *PhotoPrism) UploadFiles(ctx context.Context, filePaths []string) (string, error) {
	if pp.userUID == "" {
		return "", errors.New("user UID not available")
	}
	if len(filePaths) == 0 {
		return "", errors.New("no files to upload")
	}

	uploadToken := strconv.FormatInt(time.Now().UnixNano(), 10)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, filePath := range filePaths {
		if err := addFileToMultipart(writer, filePath); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pp.resolveURL("users", pp.userUID, "upload", uploadToken), &body)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pp.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := pp.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return uploadToken, nil
}

// ProcessUpload imports previously uploaded files into the given albums.
func (pp *PhotoPrism) ProcessUpload(ctx context.Context, uploadToken string, albumUIDs []string) error {
	if pp.userUID == "" {
		return errors.New("user UID not available")
	}
	options := struct {
		Albums []string `json:"albums,omitempty"`
	}{
		Albums: albumUIDs,
	}
	return doRequestRaw(ctx, pp, http.MethodPut, fmt.Sprintf("users/%s/upload/%s", pp.userUID, uploadToken), options)
}

// Publish uploads files into the album titled title, creating it if needed,
// and returns the album UID.
func (pp *PhotoPrism) Publish(ctx context.Context, title, description string, files []string) (string, error) {
	album, err := pp.EnsureAlbum(ctx, title, description)
	if err != nil {
		return "", fmt.Errorf("ensure album: %w", err)
	}
	token, err := pp.UploadFiles(ctx, files)
	if err != nil {
		return "", err
	}
	if err := pp.ProcessUpload(ctx, token, []string{album.UID}); err != nil {
		return "", fmt.Errorf("process upload: %w", err)
	}
	return album.UID, nil
}

// Publisher opens a session per publish so a long-running server does not
// hold a PhotoPrism session between exports.
type Publisher struct {
	URL      string
	Username string
	Password string
}

// Publish logs in, publishes files into the album titled title and logs out.
func (p *Publisher) Publish(ctx context.Context, title, description string, files []string) (string, error) {
	pp, err := NewPhotoPrism(ctx, p.URL, p.Username, p.Password)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := pp.Logout(ctx); err != nil {
			log.Printf("Warning: %v", err)
		}
	}()
	return pp.Publish(ctx, title, description, files)
}
