package audio

import (
	"math"
	"testing"

	"chainrig/internal/chain"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func peak(buf [][2]float64) (left, right float64) {
	for _, s := range buf {
		left = math.Max(left, math.Abs(s[0]))
		right = math.Max(right, math.Abs(s[1]))
	}
	return left, right
}

func TestVoice_StartStop(t *testing.T) {
	e := NewEngine(beep.SampleRate(8000))
	v, err := e.Voice("A", chain.DefaultRoles(2))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Voices())

	l, r := peak(e.Render(400))
	assert.Zero(t, l+r, "a new voice is paused")

	v.Start()
	l, r = peak(e.Render(400))
	assert.Greater(t, l, 0.0)
	assert.Greater(t, r, 0.0)

	v.Stop()
	l, r = peak(e.Render(400))
	assert.Zero(t, l+r)
}

func TestVoice_CloseLeavesMixer(t *testing.T) {
	e := NewEngine(beep.SampleRate(8000))
	v, err := e.Voice("A", chain.DefaultRoles(2))
	require.NoError(t, err)

	v.Close()
	e.Render(16)
	assert.Zero(t, e.Voices())
}

func TestVoice_PanLeft(t *testing.T) {
	e := NewEngine(beep.SampleRate(8000))
	v, err := e.Voice("L", []chain.Role{chain.Saw, chain.Left})
	require.NoError(t, err)
	v.Start()

	l, r := peak(e.Render(800))
	assert.Greater(t, l, 0.0)
	assert.InDelta(t, 0, r, 1e-9)
}

func TestVoice_SilenceSource(t *testing.T) {
	e := NewEngine(beep.SampleRate(8000))
	v, err := e.Voice("S", []chain.Role{chain.Silence, chain.Gain})
	require.NoError(t, err)
	v.Start()

	l, r := peak(e.Render(400))
	assert.Zero(t, l+r)
}

func TestVoice_EveryRoleBuilds(t *testing.T) {
	e := NewEngine(0, WithFrequency(440), WithLogger(zap.NewNop()))
	assert.Equal(t, DefaultSampleRate, e.sr)

	sources := []chain.Role{chain.Sine, chain.Saw, chain.Square, chain.Triangle, chain.Silence}
	effectRoles := []chain.Role{chain.Thru, chain.Gain, chain.Quiet, chain.Left, chain.Right, chain.Mono, chain.Swap}
	for _, src := range sources {
		roles := append([]chain.Role{src}, effectRoles...)
		v, err := e.Voice(string(src), roles)
		require.NoError(t, err, src)
		v.Start()
	}
	assert.Len(t, e.Render(64), 64)
	assert.Equal(t, len(sources), e.Voices())
}

func TestVoice_NoSlots(t *testing.T) {
	_, err := NewEngine(0).Voice("empty", nil)
	assert.Error(t, err)
}

func TestEngineBehindRegistry(t *testing.T) {
	e := NewEngine(beep.SampleRate(8000))
	reg := chain.NewRegistry(e, zap.NewNop())
	a := reg.Create("A", 3)

	require.NoError(t, a.Play())
	l, _ := peak(e.Render(400))
	assert.Greater(t, l, 0.0)

	a.Free()
	e.Render(16)
	assert.Zero(t, e.Voices(), "freeing the chain closes its voice")
}
