// Package config loads the two run inputs: the migration-mapping file and the
// cluster-credentials file. Both are small CSV tables with a header row whose
// column names are matched case- and whitespace-insensitively.
package config

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

// LoadMapping reads the migration-mapping file and returns the single
// migration it describes. Only the first data row is consumed.
func LoadMapping(path string) (*types.MigrationRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening mapping file")
	}
	defer f.Close()

	return parseMapping(f)
}

func parseMapping(r io.Reader) (*types.MigrationRequest, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading mapping file")
	}
	if len(rows) == 0 {
		return nil, errors.New("mapping file has no data rows")
	}

	row := rows[0]
	req := &types.MigrationRequest{
		SourceNamespace: row[normalizeKey("source namespace")],
		DestNamespace:   row[normalizeKey("destination namespace")],
		SourceClaim:     row[normalizeKey("source volume name")],
		DestClaim:       row[normalizeKey("destination volume name")],
		SourcePath:      row[normalizeKey("source path")],
		DestPath:        row[normalizeKey("destination path")],
		Identity:        row[normalizeKey("workload identity name")],
	}
	if m := row[normalizeKey("transfer method")]; m != "" {
		req.Method = types.ParseMethod(m)
	}

	if req.SourceNamespace == "" {
		return nil, errors.New("mapping file: source namespace is required")
	}
	if req.DestNamespace == "" {
		return nil, errors.New("mapping file: destination namespace is required")
	}

	req.ApplyDefaults()
	return req, nil
}

// Credentials holds the per-cluster credential rows from the credentials file.
type Credentials struct {
	Source      types.ClusterCredentials
	Destination types.ClusterCredentials
}

// LoadCredentials reads the credentials file. Rows are matched by their
// cluster label ("source" or "destination"); unlabeled rows are rejected.
func LoadCredentials(path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening credentials file")
	}
	defer f.Close()

	return parseCredentials(f)
}

func parseCredentials(r io.Reader) (*Credentials, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading credentials file")
	}

	creds := &Credentials{}
	for _, row := range rows {
		c := types.ClusterCredentials{
			Endpoint: row[normalizeKey("endpoint")],
			Token:    row[normalizeKey("token")],
			Username: row[normalizeKey("username")],
			Password: row[normalizeKey("password")],
		}
		if v := row[normalizeKey("insecure")]; v != "" {
			insecure, err := ParseBool(v)
			if err != nil {
				return nil, errors.Wrap(err, "credentials file: insecure column")
			}
			c.Insecure = insecure
		}

		switch strings.ToLower(strings.TrimSpace(row[normalizeKey("cluster")])) {
		case "source":
			creds.Source = c
		case "destination":
			creds.Destination = c
		default:
			return nil, errors.Errorf("credentials file: unknown cluster label %q", row[normalizeKey("cluster")])
		}
	}

	return creds, nil
}

// ParseBool accepts the boolean forms used by the credentials file:
// true|false|y|n|1|0, in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "y", "yes", "1":
		return true, nil
	case "false", "n", "no", "0":
		return false, nil
	default:
		return false, errors.Errorf("invalid boolean %q", s)
	}
}

// readTable parses a CSV stream into one map per data row, keyed by
// normalized header names. Missing cells read as empty strings.
func readTable(r io.Reader) ([]rowMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, errors.New("empty file")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeKey(h)
	}

	var rows []rowMap
	for _, record := range records[1:] {
		row := rowMap{}
		for i, field := range record {
			if i >= len(header) {
				break
			}
			row[header[i]] = strings.TrimSpace(field)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type rowMap map[string]string

// normalizeKey strips whitespace, underscores and dashes and lowercases,
// so "Source_Namespace" and "source namespace" address the same column.
func normalizeKey(s string) string {
	s = strings.ToLower(s)
	for _, cut := range []string{" ", "\t", "_", "-"} {
		s = strings.ReplaceAll(s, cut, "")
	}
	return s
}
