package transfer

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Uploader optionally retains the staged archive in external storage before
// it is deleted. Upload failures are advisory only.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Archive is the stream-archive strategy: tar the directory on the source
// workload into a local staging file, then stream that file into the
// destination workload and unpack it under the destination path root.
type Archive struct {
	staging  string
	uploader Uploader // nil unless an artifact store is configured
	logger   log.FieldLogger
}

// NewArchive creates the stream-archive strategy staging into the given dir.
func NewArchive(staging string, uploader Uploader, logger log.FieldLogger) *Archive {
	return &Archive{
		staging:  staging,
		uploader: uploader,
		logger:   logger.WithField("strategy", "archive"),
	}
}

func (a *Archive) Name() string { return "stream-archive" }

// Move pulls, pushes, then removes the local staging artifact. The artifact
// is deleted only after the push completed, which the sequencing guarantees.
func (a *Archive) Move(ctx context.Context, src, dst Endpoint) error {
	leaf := path.Base(src.Path)
	parent := path.Dir(src.Path)
	local := filepath.Join(a.staging, leaf+".tar")

	if err := a.pull(ctx, src, parent, leaf, local); err != nil {
		return errors.Wrap(err, "stream-archive: packing source directory")
	}

	if err := a.push(ctx, dst, local); err != nil {
		return errors.Wrap(err, "stream-archive: unpacking at destination")
	}

	if a.uploader != nil {
		key := "migrations/" + leaf + ".tar"
		if err := a.uploader.Upload(ctx, local, key); err != nil {
			a.logger.Warnf("Archive retention upload failed (continuing): %v", err)
		}
	}

	if err := os.Remove(local); err != nil {
		a.logger.Warnf("Failed to remove staging artifact %s: %v", local, err)
	}

	a.logger.WithField("directory", leaf).Info("Transfer complete")
	return nil
}

func (a *Archive) pull(ctx context.Context, src Endpoint, parent, leaf, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return errors.Wrap(err, "creating staging artifact")
	}
	defer f.Close()

	a.logger.Debugf("Packing %s from %s/%s", leaf, src.Pod.Namespace, src.Pod.Name)

	var stderr bytes.Buffer
	cmd := []string{"tar", "-C", parent, "-cf", "-", leaf}
	if err := src.Exec.Exec(ctx, src.Pod.Namespace, src.Pod.Name, cmd, nil, f, &stderr); err != nil {
		// Drop the partial artifact so a retry does not push garbage.
		f.Close()
		os.Remove(local)
		return errors.Wrapf(err, "tar on source pod: %s", stderr.String())
	}
	return nil
}

func (a *Archive) push(ctx context.Context, dst Endpoint, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return errors.Wrap(err, "opening staging artifact")
	}
	defer f.Close()

	a.logger.Debugf("Unpacking into %s on %s/%s", dst.Path, dst.Pod.Namespace, dst.Pod.Name)

	var stderr bytes.Buffer
	cmd := []string{"tar", "-xf", "-", "-C", dst.Path}
	if err := dst.Exec.Exec(ctx, dst.Pod.Namespace, dst.Pod.Name, cmd, f, nil, &stderr); err != nil {
		return errors.Wrapf(err, "tar on destination pod: %s", stderr.String())
	}
	return nil
}
