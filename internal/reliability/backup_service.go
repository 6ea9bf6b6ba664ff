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
	"time"

	"github.com/rs/zerolog"
)

// keepBackups is how many remote backups survive pruning.
const keepBackups = 14

// BackupMetadata describes the archive contents.
type BackupMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one file inside the archive.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	Checksum  string `json:"checksum"`
}

// BackupService archives the agent's sqlite stores and uploads them.
type BackupService struct {
	s3      *S3Client
	dataDir string
	// paths are the database files included in each backup.
	paths []string
	log   zerolog.Logger
}

// NewBackupService creates the backup service over the given database
// file paths.
func NewBackupService(s3 *S3Client, dataDir string, paths []string, log zerolog.Logger) *BackupService {
	return &BackupService{
		s3:      s3,
		dataDir: dataDir,
		paths:   paths,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// Name implements the scheduler job interface.
func (s *BackupService) Name() string { return "backup" }

// Run creates and uploads one backup, then prunes old ones.
func (s *BackupService) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return s.CreateAndUpload(ctx)
}

// CreateAndUpload builds the tar.gz archive and ships it.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting backup")

	staging, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	archivePath := filepath.Join(staging,
		fmt.Sprintf("agent-backup-%s.tar.gz", time.Now().UTC().Format("2006-01-02-150405")))
	if err := s.createArchive(archivePath); err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	key := "backups/" + filepath.Base(archivePath)
	if err := s.s3.Upload(ctx, key, f); err != nil {
		return err
	}

	if err := s.prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	s.log.Info().Dur("elapsed", time.Since(start)).Str("key", key).Msg("Backup complete")
	return nil
}

// createArchive writes the database files plus a metadata entry into a
// tar.gz at archivePath.
func (s *BackupService) createArchive(archivePath string) error {
	metadata := BackupMetadata{Timestamp: time.Now().UTC()}
	for _, path := range s.paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return err
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Name:      filepath.Base(path),
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "backup-metadata.json",
		Mode:    0644,
		Size:    int64(len(metadataBytes)),
		ModTime: metadata.Timestamp,
	}); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	if _, err := tw.Write(metadataBytes); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	for _, path := range s.paths {
		if err := addFile(tw, path); err != nil {
			return err
		}
	}
	return nil
}

// prune deletes remote backups beyond the retention count.
func (s *BackupService) prune(ctx context.Context) error {
	objects, err := s.s3.List(ctx, "backups/")
	if err != nil {
		return err
	}
	for _, obj := range objects[min(len(objects), keepBackups):] {
		if err := s.s3.Delete(ctx, obj.Key); err != nil {
			return err
		}
		s.log.Info().Str("key", obj.Key).Msg("Pruned old backup")
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    filepath.Base(path),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
