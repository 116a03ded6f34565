package vitalvoice

import (
	"context"
	"fmt"
	"io"
)

// MediaService uploads message attachments ahead of the message that
// references them.
type MediaService struct {
	client *Client
}

// UploadImage posts a medical image and returns its hosted URL.
func (s *MediaService) UploadImage(ctx context.Context, r io.Reader, filename string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := s.client.doMultipart(ctx, "/chat/upload-medical-image", "file", filename, r, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload image: response carries no url")
	}
	return out.URL, nil
}
