package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DrivePublisher stores generated images in a Google Drive folder and shares
// them with anyone holding the link.
type DrivePublisher struct {
	svc      *drive.Service
	folderID string
	now      func() time.Time
}

func NewDrivePublisher(ctx context.Context, folderID string, opts ...option.ClientOption) (*DrivePublisher, error) {
	if folderID == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveFileScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DrivePublisher{svc: svc, folderID: folderID, now: time.Now}, nil
}

func (p *DrivePublisher) Publish(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	name := fmt.Sprintf("%s_%s%s", p.now().UTC().Format("20060102T150405"), uuid.NewString(), extensionFromContentType(contentType))
	file, err := p.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: contentType,
		Parents:  []string{p.folderID},
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload to drive: %w", err)
	}

	_, err = p.svc.Permissions.Create(file.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("share drive file %s: %w", file.Id, err)
	}

	return driveViewURL(file.Id), nil
}

func driveViewURL(fileID string) string {
	return "https://drive.google.com/uc?export=view&id=" + fileID
}
