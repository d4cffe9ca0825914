package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/config"
	"github.com/warthog618/config/dict"

	"github.com/jeremytrimble/ezdma/pkg/umem"
)

func configFrom(m map[string]interface{}) *config.Config {
	return config.New(dict.New(dict.WithMap(m)))
}

func TestParseSpecs(t *testing.T) {
	cfg := configFrom(map[string]interface{}{
		"channels":     []string{"loop_tx", "loop_rx", "port0"},
		"loop_tx.dir":  2,
		"loop_tx.fifo": "loop",
		"loop_rx.dir":  1,
		"loop_rx.fifo": "loop",
		"port0.dir":    1,
	})

	specs, err := ParseSpecs(cfg)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, ChannelSpec{Name: "loop_tx", Dir: umem.HostToDevice, Fifo: "loop"}, specs[0])
	assert.Equal(t, ChannelSpec{Name: "loop_rx", Dir: umem.DeviceToHost, Fifo: "loop"}, specs[1])
	assert.Equal(t, ChannelSpec{Name: "port0", Dir: umem.DeviceToHost, Fifo: "port0"}, specs[2],
		"fifo defaults to the channel name")
}

func TestParseSpecsNoChannels(t *testing.T) {
	_, err := ParseSpecs(configFrom(map[string]interface{}{}))
	assert.Error(t, err)
}

func TestParseSpecsMissingDir(t *testing.T) {
	_, err := ParseSpecs(configFrom(map[string]interface{}{
		"channels": []string{"port0"},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing dir")
}

func TestParseSpecsBadDirection(t *testing.T) {
	_, err := ParseSpecs(configFrom(map[string]interface{}{
		"channels":  []string{"port0"},
		"port0.dir": 3,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported direction")
}

func TestParseSpecsDuplicateName(t *testing.T) {
	_, err := ParseSpecs(configFrom(map[string]interface{}{
		"channels":  []string{"port0", "port0"},
		"port0.dir": 1,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateNameLength(t *testing.T) {
	ok := ChannelSpec{Name: "sixteen_chars_ok", Dir: umem.DeviceToHost, Fifo: "f"}
	require.Len(t, ok.Name, NameMaxChars)
	assert.NoError(t, ok.Validate())

	long := ChannelSpec{Name: "seventeen_chars_x", Dir: umem.DeviceToHost, Fifo: "f"}
	assert.Error(t, long.Validate())

	empty := ChannelSpec{Dir: umem.DeviceToHost}
	assert.Error(t, empty.Validate())
}
