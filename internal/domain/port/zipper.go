package port

import "context"

// Zipper packs files into a flat archive and returns the archive size in bytes.
type Zipper interface {
	CreateZip(ctx context.Context, filePaths []string, outputPath string) (int64, error)
}
