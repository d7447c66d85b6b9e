package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipCreator bundles flow rasters into the artifact uploaded for a job.
type ZipCreator struct{}

func NewZipCreator() *ZipCreator {
	return &ZipCreator{}
}

// CreateZip writes filePaths into outputPath, flat, and returns the archive size.
// A partially written archive is removed on failure.
func (z *ZipCreator) CreateZip(ctx context.Context, filePaths []string, outputPath string) (size int64, err error) {
	zipFile, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create zip file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	zipWriter := zip.NewWriter(zipFile)
	for _, fp := range filePaths {
		select {
		case <-ctx.Done():
			zipFile.Close()
			return 0, ctx.Err()
		default:
		}

		if err := addFileToZip(zipWriter, fp); err != nil {
			zipFile.Close()
			return 0, fmt.Errorf("add %s to zip: %w", fp, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		zipFile.Close()
		return 0, fmt.Errorf("finalize zip: %w", err)
	}
	info, err := zipFile.Stat()
	if err != nil {
		zipFile.Close()
		return 0, fmt.Errorf("stat zip: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return 0, fmt.Errorf("close zip: %w", err)
	}
	return info.Size(), nil
}

func addFileToZip(zw *zip.Writer, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = filepath.Base(filename)
	// PNG rasters are already compressed.
	header.Method = zip.Store

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}
