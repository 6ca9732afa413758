package transfer

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// VerifySizes compares block counts of the copied directory on both sides.
// Block-count comparison across filesystems is inherently approximate
// (sparse files, metadata overhead), so the check is advisory: a delta
// beyond tolerance logs a warning and the run continues.
func VerifySizes(ctx context.Context, src, dst Endpoint, logger log.FieldLogger) {
	leaf := path.Base(src.Path)
	destDir := path.Join(dst.Path, leaf)

	srcBlocks, err := duBlocks(ctx, src, src.Path)
	if err != nil {
		logger.Warnf("Could not measure source directory size: %v", err)
		return
	}
	dstBlocks, err := duBlocks(ctx, dst, destDir)
	if err != nil {
		logger.Warnf("Could not measure destination directory size: %v", err)
		return
	}

	tolerance, ok := WithinTolerance(srcBlocks, dstBlocks)
	fields := log.Fields{
		"sourceBlocks": srcBlocks,
		"destBlocks":   dstBlocks,
		"tolerance":    tolerance,
	}
	if !ok {
		logger.WithFields(fields).Warn("Transferred size differs beyond tolerance (continuing)")
		return
	}
	logger.WithFields(fields).Info("Transferred size verified")
}

// WithinTolerance computes the allowed block-count delta (source/100 + 16)
// and reports whether the observed delta stays inside it.
func WithinTolerance(srcBlocks, dstBlocks int64) (tolerance int64, ok bool) {
	tolerance = srcBlocks/100 + 16
	delta := srcBlocks - dstBlocks
	if delta < 0 {
		delta = -delta
	}
	return tolerance, delta <= tolerance
}

func duBlocks(ctx context.Context, ep Endpoint, dir string) (int64, error) {
	var stdout, stderr bytes.Buffer
	cmd := []string{"du", "-s", dir}
	if err := ep.Exec.Exec(ctx, ep.Pod.Namespace, ep.Pod.Name, cmd, nil, &stdout, &stderr); err != nil {
		return 0, errors.Wrapf(err, "du on %s/%s: %s", ep.Pod.Namespace, ep.Pod.Name, stderr.String())
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return 0, errors.New("empty du output")
	}
	blocks, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing du output %q", stdout.String())
	}
	return blocks, nil
}
