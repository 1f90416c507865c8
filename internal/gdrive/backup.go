// Package gdrive uploads nightly snapshots of the sqlite database to a
// Google Drive folder.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type Backup struct {
	service  *drive.Service
	folderID string
	log      *logrus.Entry
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewBackup(ctx context.Context, credPath, folderID string, log *logrus.Entry) (*Backup, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Backup{
		service:  svc,
		folderID: folderID,
		log:      log,
		fileIDs:  make(map[string]string),
	}, nil
}

// Upload pushes one snapshot of the database file, one Drive file per day.
// A second upload on the same date updates the existing file in place.
func (b *Backup) Upload(localPath, date string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := b.fileIDs[date]; ok {
		if _, err := b.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := b.service.Files.Create(&drive.File{
		Name:     fmt.Sprintf("interview-pilot-%s.db", date),
		MimeType: "application/octet-stream",
		Parents:  []string{b.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	b.fileIDs[date] = doc.Id
	return nil
}

// Run uploads the database once per interval until ctx is cancelled.
// Failures are logged and the loop keeps going; the next tick retries.
func (b *Backup) Run(ctx context.Context, localPath string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			date := time.Now().UTC().Format("2006-01-02")
			if err := b.Upload(localPath, date); err != nil {
				b.log.WithError(err).Warn("database backup failed")
			} else {
				b.log.WithField("date", date).Info("database backed up")
			}
		}
	}
}
