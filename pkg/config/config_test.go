package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

func TestParseMapping_Full(t *testing.T) {
	in := strings.NewReader(
		"source namespace,destination namespace,source volume name,destination volume name,source path,destination path,transfer method,workload identity name\n" +
			"ns-a,ns-b,src-claim,dst-claim,/data,/restore,rsync,tower\n")

	req, err := parseMapping(in)
	require.NoError(t, err)

	assert.Equal(t, "ns-a", req.SourceNamespace)
	assert.Equal(t, "ns-b", req.DestNamespace)
	assert.Equal(t, "src-claim", req.SourceClaim)
	assert.Equal(t, "dst-claim", req.DestClaim)
	assert.Equal(t, "/data", req.SourcePath)
	assert.Equal(t, "/restore", req.DestPath)
	assert.Equal(t, types.MethodRsync, req.Method)
	assert.Equal(t, "tower", req.Identity)
}

func TestParseMapping_DefaultsApplied(t *testing.T) {
	in := strings.NewReader(
		"source namespace,destination namespace\n" +
			"ns-a,ns-b\n")

	req, err := parseMapping(in)
	require.NoError(t, err)

	assert.Equal(t, "/backups", req.SourcePath)
	assert.Equal(t, "/backups", req.DestPath)
	assert.Equal(t, types.MethodArchive, req.Method)
	assert.Equal(t, "controller", req.Identity)
	assert.Empty(t, req.SourceClaim)
	assert.Empty(t, req.DestClaim)
}

func TestParseMapping_HeaderInsensitive(t *testing.T) {
	// Case, whitespace, underscores and dashes in headers are ignored.
	in := strings.NewReader(
		"Source_Namespace, DESTINATION-NAMESPACE ,Transfer Method\n" +
			"ns-a,ns-b,RSYNC\n")

	req, err := parseMapping(in)
	require.NoError(t, err)

	assert.Equal(t, "ns-a", req.SourceNamespace)
	assert.Equal(t, "ns-b", req.DestNamespace)
	assert.Equal(t, types.MethodRsync, req.Method)
}

func TestParseMapping_MissingRequired(t *testing.T) {
	in := strings.NewReader(
		"source namespace,destination namespace\n" +
			"ns-a,\n")

	_, err := parseMapping(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination namespace")
}

func TestParseMapping_NoDataRows(t *testing.T) {
	in := strings.NewReader("source namespace,destination namespace\n")

	_, err := parseMapping(in)
	require.Error(t, err)
}

func TestParseMapping_FirstRowOnly(t *testing.T) {
	in := strings.NewReader(
		"source namespace,destination namespace\n" +
			"ns-a,ns-b\n" +
			"ns-c,ns-d\n")

	req, err := parseMapping(in)
	require.NoError(t, err)
	assert.Equal(t, "ns-a", req.SourceNamespace)
}

func TestParseCredentials(t *testing.T) {
	in := strings.NewReader(
		"cluster,endpoint,token,username,password,insecure\n" +
			"source,https://api.src.example.com:6443,tok-abc,,,y\n" +
			"destination,https://api.dst.example.com:6443,,admin,secret,false\n")

	creds, err := parseCredentials(in)
	require.NoError(t, err)

	assert.Equal(t, "https://api.src.example.com:6443", creds.Source.Endpoint)
	assert.Equal(t, "tok-abc", creds.Source.Token)
	assert.True(t, creds.Source.Insecure)

	assert.Equal(t, "admin", creds.Destination.Username)
	assert.Equal(t, "secret", creds.Destination.Password)
	assert.False(t, creds.Destination.Insecure)
}

func TestParseCredentials_UnknownLabel(t *testing.T) {
	in := strings.NewReader(
		"cluster,endpoint\n" +
			"staging,https://api.example.com\n")

	_, err := parseCredentials(in)
	require.Error(t, err)
}

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "TRUE", "y", "Y", "yes", "1"}
	for _, s := range truthy {
		got, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.True(t, got, s)
	}

	falsy := []string{"false", "FALSE", "n", "N", "no", "0"}
	for _, s := range falsy {
		got, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.False(t, got, s)
	}

	_, err := ParseBool("maybe")
	require.Error(t, err)
}

func TestPromptCredentials(t *testing.T) {
	in := strings.NewReader("https://api.example.com:6443\nadmin\nhunter2\n")
	var out strings.Builder

	creds, err := PromptCredentials(in, &out, "source", types.ClusterCredentials{})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com:6443", creds.Endpoint)
	assert.Equal(t, "admin", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Contains(t, out.String(), "source cluster")
}

func TestPromptCredentials_TokenSkipsUserPass(t *testing.T) {
	in := strings.NewReader("")
	var out strings.Builder

	existing := types.ClusterCredentials{Endpoint: "https://api.example.com", Token: "tok"}
	creds, err := PromptCredentials(in, &out, "destination", existing)
	require.NoError(t, err)

	assert.Equal(t, existing, creds)
	assert.Empty(t, out.String())
}
