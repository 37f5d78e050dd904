package buildinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withValues(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = version, commit, buildTime
}

func TestGet_LinkerValues(t *testing.T) {
	withValues(t, "v1.2.3", "abc123d", "2026-10-01T12:00:00Z")

	info := Get("meetnotes-api")
	assert.Equal(t, Info{
		ServiceName: "meetnotes-api",
		Version:     "v1.2.3",
		Commit:      "abc123d",
		BuildTime:   "2026-10-01T12:00:00Z",
		GoVersion:   runtime.Version(),
	}, info)
}

func TestApplyVCS(t *testing.T) {
	info := Info{Commit: "unknown", BuildTime: "unknown"}
	applyVCS(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "4f1c2aa9d0e1b2c3"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "false"},
	})
	assert.Equal(t, "4f1c2aa", info.Commit)
	assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildTime)
}

func TestString(t *testing.T) {
	withValues(t, "dev", "unknown", "unknown")
	assert.Equal(t, "dev (unknown, unknown)", String())

	withValues(t, "v1.2.3", "abc123d", "2026-10-01T12:00:00Z")
	assert.Equal(t, "v1.2.3 (abc123d, 2026-10-01T12:00:00Z)", String())
	assert.Equal(t, "meetnotes/v1.2.3", UserAgent())
}

func TestHandler(t *testing.T) {
	withValues(t, "v0.3.0", "4f1c2aa", "2026-10-01T12:00:00Z")

	rec := httptest.NewRecorder()
	Handler("meetnotes-worker")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "meetnotes-worker", decoded["service_name"])
	assert.Equal(t, "v0.3.0", decoded["version"])
	assert.Len(t, decoded, 5)
}
