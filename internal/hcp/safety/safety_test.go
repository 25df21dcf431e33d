package safety

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttemptsPerIncident: 3,
		MaxSessionsPerWindow:   3,
		WindowDuration:         time.Hour,
		KillSwitchThreshold:    3,
		KillSwitchDuration:     time.Hour,
		Cooldown:               10 * time.Millisecond,
	}
}

func TestTryAdmit_AttemptCapRejectsBeforeConsumingRateLimit(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	res := e.TryAdmit(now, 3)
	assert.Equal(t, DeniedAttemptCap, res)
	assert.Empty(t, e.Snapshot().SessionTimestamps)
}

func TestTryAdmit_RateLimitEnforced(t *testing.T) {
	e := New(testConfig())
	now := time.Now()

	require.Equal(t, Admitted, e.TryAdmit(now, 0))
	e.Release()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, Admitted, e.TryAdmit(now.Add(time.Second), 0))
	e.Release()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, Admitted, e.TryAdmit(now.Add(2*time.Second), 0))
	e.Release()
	time.Sleep(20 * time.Millisecond)

	// 4th admission within the hour window is rejected.
	assert.Equal(t, DeniedRateLimit, e.TryAdmit(now.Add(3*time.Second), 0))

	// After the window elapses, admission succeeds again.
	assert.Equal(t, Admitted, e.TryAdmit(now.Add(time.Hour+time.Minute), 0))
}

func TestTryAdmit_LockHeldRejectsConcurrentAdmission(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	require.Equal(t, Admitted, e.TryAdmit(now, 0))

	assert.Equal(t, DeniedLockHeld, e.TryAdmit(now.Add(time.Second), 0))
}

func TestRelease_ReArmsAfterCooldown(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	require.Equal(t, Admitted, e.TryAdmit(now, 0))
	e.Release()

	// Immediately after release, cooldown has not elapsed yet.
	assert.Equal(t, DeniedLockHeld, e.TryAdmit(now, 0))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Admitted, e.TryAdmit(now, 0))
}

func TestKillSwitch_ActivatesOnThirdConsecutiveFailure(t *testing.T) {
	e := New(testConfig())
	now := time.Now()

	assert.False(t, e.RecordFailure(now))
	assert.False(t, e.RecordFailure(now))
	assert.True(t, e.RecordFailure(now))

	snap := e.Snapshot()
	assert.True(t, snap.KillSwitchActive)
	require.NotNil(t, snap.KillSwitchUntil)
	assert.WithinDuration(t, now.Add(time.Hour), *snap.KillSwitchUntil, time.Second)
}

func TestKillSwitch_BlocksAdmissionThenClearsAfterExpiry(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	e.RecordFailure(now)
	e.RecordFailure(now)
	e.RecordFailure(now)

	assert.Equal(t, DeniedKillSwitch, e.TryAdmit(now.Add(time.Minute), 0))

	// After the kill-switch window has passed, the next admission
	// attempt clears it and resets consecutiveFailures.
	res := e.TryAdmit(now.Add(2*time.Hour), 0)
	assert.Equal(t, Admitted, res)
	assert.Equal(t, 0, e.Snapshot().ConsecutiveFailures)
	assert.False(t, e.Snapshot().KillSwitchActive)
}

func TestProperties_Envelope(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("window never exceeds the configured maximum", prop.ForAll(
		func(offsets []int) bool {
			cfg := testConfig()
			cfg.Cooldown = time.Nanosecond
			e := New(cfg)
			base := time.Now()
			for _, off := range offsets {
				now := base.Add(time.Duration(off) * time.Second)
				if e.TryAdmit(now, 0) == Admitted {
					e.Release()
					time.Sleep(time.Millisecond)
				}
				if len(e.Snapshot().SessionTimestamps) > cfg.MaxSessionsPerWindow {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7200)),
	))

	properties.Property("kill-switch activates exactly once at the threshold", prop.ForAll(
		func(failures int) bool {
			e := New(testConfig())
			now := time.Now()
			activations := 0
			for i := 0; i < failures; i++ {
				if e.RecordFailure(now) {
					activations++
				}
			}
			if failures < 3 {
				return activations == 0
			}
			return activations == 1
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestRecordSuccess_ResetsConsecutiveFailures(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	e.RecordFailure(now)
	e.RecordFailure(now)
	e.RecordSuccess()
	assert.Equal(t, 0, e.Snapshot().ConsecutiveFailures)
}
