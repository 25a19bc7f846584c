package hardening

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowsPasswordPolicy(t *testing.T) {
	probe := WindowsPasswordPolicy{
		MinLength: 12,
		Lookup: func(hostname string) (int, bool) {
			switch hostname {
			case "weak-host":
				return 6, true
			case "strong-host":
				return 14, true
			}
			return 0, false
		},
	}

	require.Equal(t, 1, probe.Assess("weak-host", "Windows Server 2016"))
	require.Equal(t, 0, probe.Assess("strong-host", "Windows"))
	require.Equal(t, 0, probe.Assess("unknown-host", "windows"))
	require.Equal(t, 0, probe.Assess("weak-host", "Linux"))
}

func TestWindowsPasswordPolicyWithoutLookup(t *testing.T) {
	probe := WindowsPasswordPolicy{MinLength: 12}
	require.Equal(t, 0, probe.Assess("any", "Windows"))
}

func TestIsWindowsFamily(t *testing.T) {
	require.True(t, IsWindowsFamily("Windows"))
	require.True(t, IsWindowsFamily("windows server 2019"))
	require.False(t, IsWindowsFamily("Linux"))
	require.False(t, IsWindowsFamily("Darwin"))
}

func TestProbeFunc(t *testing.T) {
	var probe Probe = ProbeFunc(func(hostname, osName string) int { return 2 })
	require.Equal(t, 2, probe.Assess("h", "os"))
}
