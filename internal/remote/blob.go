package remote

import (
	"context"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// photoBucket is the GridFS bucket holding profile photos.
const photoBucket = "profile_photos"

// UploadProfilePhoto streams a photo into blob storage under the
// per-user path convention and returns the stored path. Uploads never
// overwrite: each gets a fresh timestamped name, so a retried upload at
// worst leaves an orphaned older blob.
func (s *Store) UploadProfilePhoto(ctx context.Context, uid string, r io.Reader) (string, error) {
	bucket, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(photoBucket))
	if err != nil {
		return "", fmt.Errorf("open photo bucket: %w", err)
	}

	path := fmt.Sprintf("profile_pic/%s/profile_%d.jpg", uid, nowUTC().UnixMilli())
	stream, err := bucket.OpenUploadStream(path)
	if err != nil {
		return "", fmt.Errorf("open upload stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := io.Copy(stream, r); err != nil {
		_ = stream.Abort()
		return "", fmt.Errorf("upload photo: %w", err)
	}
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("commit photo: %w", err)
	}
	s.log.Info().Str("path", path).Msg("profile photo uploaded")
	return path, nil
}

// DownloadProfilePhoto streams a stored photo to w.
func (s *Store) DownloadProfilePhoto(ctx context.Context, path string, w io.Writer) error {
	bucket, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(photoBucket))
	if err != nil {
		return fmt.Errorf("open photo bucket: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = bucket.SetReadDeadline(deadline)
	}
	if _, err := bucket.DownloadToStreamByName(path, w); err != nil {
		return fmt.Errorf("download photo %s: %w", path, err)
	}
	return nil
}
