package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploader_GenerateObjectNameWithoutPrefix(t *testing.T) {
	u := &Uploader{config: Config{}}
	assert.Equal(t, "cpu.rrd", u.generateObjectName("/var/lib/rrd/h1/cpu/cpu.rrd"))
}

func TestUploader_GenerateObjectNameWithPrefix(t *testing.T) {
	u := &Uploader{config: Config{ObjectPrefix: "archive/2026/"}}
	assert.Equal(t, "archive/2026/cpu.rrd", u.generateObjectName("/var/lib/rrd/h1/cpu/cpu.rrd"))
}
