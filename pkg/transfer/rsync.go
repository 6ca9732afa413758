package transfer

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Rsync is the incremental-sync strategy: pull the directory from the source
// workload into local staging, then push staging to the destination, letting
// rsync skip unchanged regions. The remote ends are reached through this
// binary's rsync-transport mode, which tunnels rsync's stream over pod exec.
type Rsync struct {
	staging  string
	selfPath string // this binary, re-invoked as rsync's remote shell
	logger   log.FieldLogger
}

// NewRsync creates the incremental-sync strategy. selfPath is the path of
// the running binary (os.Executable).
func NewRsync(staging, selfPath string, logger log.FieldLogger) *Rsync {
	return &Rsync{
		staging:  staging,
		selfPath: selfPath,
		logger:   logger.WithField("strategy", "rsync"),
	}
}

func (r *Rsync) Name() string { return "incremental-sync" }

// Available reports whether rsync can actually be used: the binary must be
// on the local PATH and present in both workloads.
func (r *Rsync) Available(ctx context.Context, src, dst Endpoint) bool {
	if r.selfPath == "" {
		return false
	}
	if _, err := osexec.LookPath("rsync"); err != nil {
		r.logger.Debug("rsync not found on local PATH")
		return false
	}
	for _, ep := range []Endpoint{src, dst} {
		cmd := []string{"rsync", "--version"}
		if err := ep.Exec.Exec(ctx, ep.Pod.Namespace, ep.Pod.Name, cmd, nil, nil, nil); err != nil {
			r.logger.Debugf("rsync not available in %s/%s: %v", ep.Pod.Namespace, ep.Pod.Name, err)
			return false
		}
	}
	return true
}

// Move pulls pod:src.Path into staging, pushes staging to pod:dst.Path, then
// removes the staging directory.
func (r *Rsync) Move(ctx context.Context, src, dst Endpoint) error {
	stagingDir := filepath.Join(r.staging, "rsync")
	if err := os.MkdirAll(stagingDir, 0700); err != nil {
		return errors.Wrap(err, "incremental-sync: creating staging dir")
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			r.logger.Warnf("Failed to remove staging dir %s: %v", stagingDir, err)
		}
	}()

	leaf := path.Base(src.Path)

	r.logger.Debugf("Pulling %s from %s/%s", src.Path, src.Pod.Namespace, src.Pod.Name)
	pull := fmt.Sprintf("%s:%s", src.Pod.Name, src.Path)
	if err := r.run(ctx, src, pull, stagingDir+"/"); err != nil {
		return errors.Wrap(err, "incremental-sync: pulling from source")
	}

	r.logger.Debugf("Pushing %s to %s/%s", leaf, dst.Pod.Namespace, dst.Pod.Name)
	push := fmt.Sprintf("%s:%s/", dst.Pod.Name, dst.Path)
	if err := r.run(ctx, dst, filepath.Join(stagingDir, leaf), push); err != nil {
		return errors.Wrap(err, "incremental-sync: pushing to destination")
	}

	r.logger.WithField("directory", leaf).Info("Transfer complete")
	return nil
}

// run invokes local rsync with this binary as the remote shell. rsync calls
// it as `<self> rsync-transport --kubeconfig=... --namespace=... <pod>
// rsync --server ...`, which the transport mode turns into a pod exec.
func (r *Rsync) run(ctx context.Context, remote Endpoint, from, to string) error {
	rsh := fmt.Sprintf("%s rsync-transport --kubeconfig=%s --namespace=%s",
		r.selfPath, remote.Kubeconfig, remote.Pod.Namespace)

	cmd := osexec.CommandContext(ctx, "rsync", "-a", "--rsh", rsh, from, to)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "rsync %s -> %s: %s", from, to, string(out))
	}
	return nil
}
