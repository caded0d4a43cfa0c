package util_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hugh/quanty/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTo(t *testing.T) {
	t.Run("production writes json at info", func(t *testing.T) {
		var buf bytes.Buffer
		log := util.NewLoggerTo(&buf, "production")

		log.Debug("hidden")
		log.Info("visible", "workspace", "sales")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "visible", entry["msg"])
		assert.Equal(t, "sales", entry["workspace"])
	})

	t.Run("development writes text at debug", func(t *testing.T) {
		var buf bytes.Buffer
		log := util.NewLoggerTo(&buf, "development")

		log.Debug("shown")
		assert.Contains(t, buf.String(), "msg=shown")
	})
}
