package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"npuprof/internal/opdesc"
	"npuprof/internal/service"
	"npuprof/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedDescriptors(n int) []byte {
	var buf []byte
	for i := 0; i < n; i++ {
		d := opdesc.ProfOpDesc{ModelID: 1, ThreadID: 2, OpIndex: uint64(i), Start: 100, End: 200, Duration: 100}
		d.Sign()
		buf = append(buf, d.Encode()...)
	}
	return buf
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	data := signedDescriptors(3)

	good := filepath.Join(dir, "good.bin")
	require.NoError(t, os.WriteFile(good, data, 0o644))

	var out bytes.Buffer
	verifyCmd.SetOut(&out)
	defer verifyCmd.SetOut(nil)

	require.NoError(t, runVerify(verifyCmd, []string{good}))
	assert.Contains(t, out.String(), "3 descriptors, all signatures valid")

	corrupt := append([]byte(nil), data...)
	corrupt[2*opdesc.Size+20] ^= 0xff // OpIndex of the third descriptor
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, corrupt, 0o644))

	err := runVerify(verifyCmd, []string{bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, opdesc.ErrBadSignature)
	assert.Contains(t, err.Error(), "2 valid descriptors")

	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, data[:opdesc.Size+1], 0o644))
	assert.ErrorIs(t, runVerify(verifyCmd, []string{short}), opdesc.ErrBadLength)
}

func TestBuildSinks(t *testing.T) {
	newApp := func(enabled ...string) *Application {
		return &Application{
			config: &config.Config{Sinks: config.SinksConfig{Enabled: enabled}},
			hub:    service.NewStreamHub(),
		}
	}

	sinks, err := newApp("websocket").buildSinks()
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "websocket", sinks[0].Name())

	_, err = newApp("redis").buildSinks()
	assert.ErrorContains(t, err, "redis.addr")

	_, err = newApp("mysql").buildSinks()
	assert.ErrorContains(t, err, "mysql.host")

	_, err = newApp("queue").buildSinks()
	assert.ErrorContains(t, err, "redis.addr")

	_, err = newApp("kafka").buildSinks()
	assert.ErrorContains(t, err, `unknown sink "kafka"`)

	assert.True(t, newApp("redis", "queue").sinkEnabled("queue"))
	assert.False(t, newApp("redis").sinkEnabled("queue"))
}
