package hardening

import "strings"

// Probe reports synthetic failures to fold into a scan before it is
// persisted. Probes inspect the host environment rather than the uploaded
// payload, so they stay out of the scoring path unless explicitly wired in.
type Probe interface {
	// Assess returns the number of additional failed checks to record for
	// the given host.
	Assess(hostname, osName string) int
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(hostname, osName string) int

func (f ProbeFunc) Assess(hostname, osName string) int {
	return f(hostname, osName)
}

// WindowsPasswordPolicy flags Windows-family hosts whose reported minimum
// password length falls below MinLength. Lookup is the environment probe;
// hosts it cannot answer for are left untouched.
type WindowsPasswordPolicy struct {
	MinLength int
	Lookup    func(hostname string) (minLength int, ok bool)
}

func (p WindowsPasswordPolicy) Assess(hostname, osName string) int {
	if !IsWindowsFamily(osName) || p.Lookup == nil {
		return 0
	}
	minLen, ok := p.Lookup(hostname)
	if !ok {
		return 0
	}
	if minLen < p.MinLength {
		return 1
	}
	return 0
}

// IsWindowsFamily matches the OS names Windows agents report, e.g.
// "Windows", "windows server 2016".
func IsWindowsFamily(osName string) bool {
	return strings.Contains(strings.ToLower(osName), "windows")
}
