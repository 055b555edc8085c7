// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package roster

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRoster = `
fail_fast = true
dial_timeout = "5s"

[log]
level = "debug"

[[switches]]
name = "leaf1"
target = "127.0.0.1:9559"
device_id = 1
p4info = "testdata/basic.p4info.txt"
election_id = 10

[[switches]]
name = "leaf2"
target = "127.0.0.1:9560"
device_id = 2
p4info = "testdata/basic.p4info.txt"
role = "monitor"
`

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeRoster(t, sampleRoster))
	require.NoError(t, err)

	assert.True(t, cfg.FailFast)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Switches, 2)
	assert.Equal(t, "leaf1", cfg.Switches[0].Name)
	assert.Equal(t, uint64(10), cfg.Switches[0].ElectionID)
	// Defaults kick in for unset values.
	assert.Equal(t, uint64(1), cfg.Switches[1].ElectionID)
	assert.Equal(t, "monitor", cfg.Switches[1].Role)
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]struct {
		content string
		errMsg  string
	}{
		"empty roster": {
			content: "",
			errMsg:  "no switches",
		},
		"missing name": {
			content: `
[[switches]]
target = "127.0.0.1:9559"
device_id = 1
p4info = "x"
`,
			errMsg: "name must not be empty",
		},
		"duplicate name": {
			content: `
[[switches]]
name = "leaf1"
target = "a:1"
device_id = 1
p4info = "x"

[[switches]]
name = "leaf1"
target = "a:2"
device_id = 2
p4info = "x"
`,
			errMsg: "duplicate switch name",
		},
		"zero device id": {
			content: `
[[switches]]
name = "leaf1"
target = "a:1"
p4info = "x"
`,
			errMsg: "device id must not be zero",
		},
		"missing p4info": {
			content: `
[[switches]]
name = "leaf1"
target = "a:1"
device_id = 1
`,
			errMsg: "p4info path must not be empty",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeRoster(t, tc.content))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "reading roster")
}
