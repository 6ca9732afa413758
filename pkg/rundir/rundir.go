// Package rundir manages the per-run artifact directory: the master log,
// the transfer staging area and one isolated kubeconfig per cluster.
package rundir

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const timestampFormat = "20060102-150405"

// Dir is a timestamped run directory. Everything inside is scoped to one
// migration run and safe to discard afterward, except the log.
type Dir struct {
	Path    string
	Staging string

	logFile *os.File
}

// New creates a fresh run directory under base, with a staging subdirectory.
func New(base string) (*Dir, error) {
	path := filepath.Join(base, "aap-migrate-"+time.Now().Format(timestampFormat))
	staging := filepath.Join(path, "staging")

	if err := os.MkdirAll(staging, 0700); err != nil {
		return nil, errors.Wrap(err, "creating run directory")
	}

	return &Dir{Path: path, Staging: staging}, nil
}

// KubeconfigPath returns where the named cluster's isolated credential
// context is written.
func (d *Dir) KubeconfigPath(cluster string) string {
	return filepath.Join(d.Path, cluster+".kubeconfig")
}

// NewLogger returns a logger writing to both stdout and the run's master log
// file. Close the Dir when done to flush the file.
func (d *Dir) NewLogger(verbose bool) (*log.Logger, error) {
	f, err := os.OpenFile(filepath.Join(d.Path, "migration.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "opening run log")
	}
	d.logFile = f

	logger := log.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger, nil
}

// Close releases the run log file handle.
func (d *Dir) Close() error {
	if d.logFile == nil {
		return nil
	}
	return d.logFile.Close()
}
