package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// ---------------------------------------------------------------------------
// stubAdapter
// ---------------------------------------------------------------------------

type stubAdapter struct{ mock.Mock }

func (a *stubAdapter) Settings(mode model.Mode) Settings {
	s := Settings{"channel": mode.Channel}
	for k, v := range mode.Params {
		s[k] = v
	}
	return s
}
func (a *stubAdapter) Apply(ctx context.Context, mode model.Mode, changes Settings) error {
	return a.Called(ctx, mode, changes).Error(0)
}
func (a *stubAdapter) Current(ctx context.Context, mode model.Mode, keys []string) (Settings, error) {
	ret := a.Called(ctx, mode, keys)
	if fn, ok := ret.Get(0).(func() Settings); ok {
		return fn(), ret.Error(1)
	}
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(Settings), ret.Error(1)
}
func (a *stubAdapter) Close() error { return a.Called().Error(0) }

func fastControllerConfig() Config {
	return Config{VerifyTimeout: 50 * time.Millisecond, VerifyInterval: 5 * time.Millisecond}
}

func mode5G(channel string) model.Mode {
	return model.NewMode(model.Band5G, "radio1", channel, "11a/n/ac", map[string]string{"htmode": "VHT80", "hwmode": "11a"})
}

func TestControllerApplyModeIdempotent(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)
	m := mode5G("36")

	a.On("Apply", mock.Anything, m, Settings{"channel": "36", "htmode": "VHT80", "hwmode": "11a"}).Return(nil).Once()
	a.On("Current", mock.Anything, m, []string{"channel", "htmode", "hwmode"}).
		Return(Settings{"channel": "36", "htmode": "VHT80", "hwmode": "11a"}, nil)

	require.NoError(t, c.ApplyMode(context.Background(), m))
	require.NoError(t, c.ApplyMode(context.Background(), m))

	assert.Equal(t, 1, c.Reloads())
	a.AssertNumberOfCalls(t, "Apply", 1)

	last, ok := c.LastApplied(model.Band5G)
	require.True(t, ok)
	assert.True(t, last.Equal(m))
	_, ok = c.LastApplied(model.Band2G)
	assert.False(t, ok)
}

func TestControllerAppliesOnlyChanges(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)
	m36, m40 := mode5G("36"), mode5G("40")

	a.On("Apply", mock.Anything, m36, mock.Anything).Return(nil).Once()
	a.On("Current", mock.Anything, m36, mock.Anything).Return(Settings{"channel": "36", "htmode": "VHT80", "hwmode": "11a"}, nil)
	a.On("Apply", mock.Anything, m40, Settings{"channel": "40"}).Return(nil).Once()
	a.On("Current", mock.Anything, m40, mock.Anything).Return(Settings{"channel": "40", "htmode": "VHT80", "hwmode": "11a"}, nil)

	require.NoError(t, c.ApplyMode(context.Background(), m36))
	require.NoError(t, c.ApplyMode(context.Background(), m40))
	a.AssertExpectations(t)
	assert.Equal(t, 2, c.Reloads())
}

func TestControllerVerifyEventually(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)
	m := mode5G("44")

	calls := 0
	a.On("Apply", mock.Anything, m, mock.Anything).Return(nil)
	a.On("Current", mock.Anything, m, mock.Anything).Return(func() Settings {
		calls++
		if calls < 3 {
			return Settings{"channel": "36", "htmode": "VHT80", "hwmode": "11a"}
		}
		return Settings{"channel": "44", "htmode": "VHT80", "hwmode": "11a"}
	}, nil)

	require.NoError(t, c.ApplyMode(context.Background(), m))
	assert.Equal(t, 3, calls)
}

func TestControllerVerifyTimeout(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)
	m := mode5G("149")

	a.On("Apply", mock.Anything, m, mock.Anything).Return(nil)
	a.On("Current", mock.Anything, m, mock.Anything).Return(Settings{"channel": "36", "htmode": "VHT80", "hwmode": "11a"}, nil)

	err := c.ApplyMode(context.Background(), m)
	var cae *ConfigurationApplyError
	require.ErrorAs(t, err, &cae)
	assert.Equal(t, []string{`channel="149"/"36"`}, cae.Mismatch)
	assert.Contains(t, err.Error(), "not active")

	_, ok := c.LastApplied(model.Band5G)
	assert.False(t, ok, "failed mode is not remembered")

	// A later attempt with the same mode is not skipped.
	_ = c.ApplyMode(context.Background(), m)
	a.AssertNumberOfCalls(t, "Apply", 2)
}

func TestControllerApplyError(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)
	m := mode5G("36")
	boom := errors.New("uci: exit status 1")

	a.On("Apply", mock.Anything, m, mock.Anything).Return(boom)

	err := c.ApplyMode(context.Background(), m)
	var cae *ConfigurationApplyError
	require.ErrorAs(t, err, &cae)
	assert.ErrorIs(t, err, boom)
	a.AssertNotCalled(t, "Current", mock.Anything, mock.Anything, mock.Anything)
}

func TestControllerCancelled(t *testing.T) {
	a := &stubAdapter{}
	c := NewController(a, fastControllerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.ApplyMode(ctx, mode5G("36"))
	assert.ErrorIs(t, err, context.Canceled)
	a.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
}

func TestControllerReset(t *testing.T) {
	a := &stubAdapter{}
	def2 := model.NewMode(model.Band2G, "radio0", "auto", "11b/g/n/ax", map[string]string{"htmode": "HE40"})
	def5 := model.NewMode(model.Band5G, "radio1", "auto", "11a/n/ac/ax", map[string]string{"htmode": "HE80"})
	cfg := fastControllerConfig()
	cfg.Defaults = []model.Mode{def2, def5}
	c := NewController(a, cfg, nil)

	a.On("Apply", mock.Anything, def2, mock.Anything).Return(errors.New("radio0 busy"))
	a.On("Apply", mock.Anything, def5, mock.Anything).Return(nil)
	a.On("Current", mock.Anything, def5, mock.Anything).Return(Settings{"channel": "auto", "htmode": "HE80"}, nil)

	err := c.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radio0 busy")

	_, ok := c.LastApplied(model.Band5G)
	assert.True(t, ok, "remaining defaults are still applied")
}

func TestDiff(t *testing.T) {
	want := Settings{"channel": "40", "htmode": "VHT80"}
	assert.Equal(t, want, diff(nil, want))
	assert.Equal(t, Settings{"channel": "40"}, diff(Settings{"channel": "36", "htmode": "VHT80"}, want))
	assert.Empty(t, diff(want, want))
}
