// Package reliability provides database backups and maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/database"
	"github.com/aristath/vaultpilot/internal/events"
	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "vaultpilot-backup-"
	archiveSuffix    = ".tar.gz"
	archiveTimestamp = "2006-01-02-150405"
	metadataFile     = "backup-metadata.json"
	metadataVersion  = "1"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// BackupMetadata describes the contents of an archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database snapshot in an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a stored archive
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the databases into a tar.gz archive and ships it
// to an object store
type BackupService struct {
	store         ObjectStore
	databases     []*database.DB
	dataDir       string
	retentionDays int
	eventManager  *events.Manager
	log           zerolog.Logger
	now           func() time.Time
}

// NewBackupService creates a backup service. retentionDays 0 keeps every
// archive.
func NewBackupService(
	store ObjectStore,
	databases []*database.DB,
	dataDir string,
	retentionDays int,
	eventManager *events.Manager,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		store:         store,
		databases:     databases,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		eventManager:  eventManager,
		log:           log.With().Str("service", "backup").Logger(),
		now:           time.Now,
	}
}

// Name returns the job name
func (s *BackupService) Name() string {
	return "backup"
}

// Run creates and uploads a backup, then rotates old ones
func (s *BackupService) Run(ctx context.Context) error {
	if _, err := s.CreateAndUpload(ctx); err != nil {
		return err
	}
	return s.RotateOldBackups(ctx)
}

// CreateAndUpload snapshots every database, archives the snapshots with
// checksummed metadata and uploads the archive
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupInfo, error) {
	s.log.Info().Msg("Starting backup")
	start := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	now := s.now().UTC()
	metadata := BackupMetadata{
		Timestamp: now,
		Version:   metadataVersion,
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		path := filepath.Join(stagingDir, filename)

		if err := db.SnapshotTo(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := checksumFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFile), metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	archiveName := archivePrefix + now.Format(archiveTimestamp) + archiveSuffix
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	stat, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if err := s.store.Upload(ctx, archiveName, archive, stat.Size()); err != nil {
		return nil, err
	}

	s.eventManager.Emit("reliability", &events.BackupCompletedData{Key: archiveName, SizeBytes: stat.Size()})
	s.log.Info().
		Dur("duration", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", stat.Size()).
		Msg("Backup completed")

	return &BackupInfo{Filename: archiveName, Timestamp: now, SizeBytes: stat.Size()}, nil
}

// ListBackups returns stored archives, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), archiveSuffix)
		ts, err := time.Parse(archiveTimestamp, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse backup timestamp")
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than the retention period,
// always keeping the newest minBackupsToKeep
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, files []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, name := range files {
		if err := addFile(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
