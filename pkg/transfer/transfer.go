package transfer

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

// Strategy moves src's directory under dst's path root, preserving the
// source directory's leaf name.
type Strategy interface {
	Name() string
	Move(ctx context.Context, src, dst Endpoint) error
}

// Select picks the strategy for the requested method. Incremental-sync is
// chosen only when the rsync tooling is actually available on this host and
// in both workloads; otherwise stream-archive is substituted and the run
// proceeds (capability degradation, not an error).
func Select(ctx context.Context, method types.Method, archive *Archive, rsync *Rsync, src, dst Endpoint, logger log.FieldLogger) Strategy {
	if method == types.MethodRsync {
		if rsync.Available(ctx, src, dst) {
			return rsync
		}
		logger.Debug("rsync tooling unavailable, substituting stream-archive")
	}
	return archive
}
