// Copyright 2026 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"math/bits"

	"github.com/kcoretools/viewkcore/internal/core"
	"github.com/pkg/errors"
)

// A ClockKind identifies what task "last ran" timestamps count.
type ClockKind uint8

const (
	// ClockSched timestamps come from sched_clock() in nanoseconds.
	ClockSched ClockKind = iota
	// ClockJiffies26 timestamps are nanoseconds derived from jiffies
	// (2.6 kernels without sched_clock).
	ClockJiffies26
	// ClockJiffies24 timestamps are plain jiffies.
	ClockJiffies24
)

func (k ClockKind) String() string {
	switch k {
	case ClockSched:
		return "sched_clock"
	case ClockJiffies26:
		return "jiffies (2.6)"
	case ClockJiffies24:
		return "jiffies (2.4)"
	}
	return fmt.Sprintf("ClockKind(%d)", uint8(k))
}

// A Clock converts scheduler timestamps to milliseconds.
type Clock struct {
	Kind ClockKind
	HZ   int64
	// Jiffies64 is set when the kernel has jiffies_64, whose value
	// starts 5 minutes before the 32-bit wrap.
	Jiffies64 bool
}

// ToMs converts a raw last-ran timestamp to milliseconds.
func (c Clock) ToMs(v uint64) float64 {
	switch c.Kind {
	case ClockJiffies26:
		if c.HZ <= 0 || c.HZ >= 1e9 {
			return 0
		}
		// v*HZ needs 128 bits once uptime passes a few months.
		hi, lo := bits.Mul64(v, uint64(c.HZ))
		j, _ := bits.Div64(hi, lo, 1e9)
		return c.JiffiesToMs(j)
	case ClockJiffies24:
		return float64(v) * 1000 / float64(c.HZ)
	}
	return float64(v) / 1e6
}

// JiffiesToMs converts a jiffies count to milliseconds since boot,
// undoing the INITIAL_JIFFIES offset on kernels that have jiffies_64.
func (c Clock) JiffiesToMs(j uint64) float64 {
	x := int64(j)
	if c.Jiffies64 && c.Kind != ClockJiffies24 {
		wrapped := x & ^int64(0xffffffff)
		if wrapped != 0 {
			wrapped -= 1 << 32
			x = x&0xffffffff | wrapped
		} else {
			x -= 1 << 32
		}
		x += 300 * c.HZ
	}
	return float64(x) * 1000 / float64(c.HZ)
}

func resolveClock(r core.Reader, release string, hz int64) Clock {
	c := Clock{HZ: hz}
	_, c.Jiffies64 = r.LookupSymbol("jiffies_64")
	switch {
	case hasSymbol(r, "sched_clock"):
		c.Kind = ClockSched
	case versionLess(release, 2, 6):
		c.Kind = ClockJiffies24
	default:
		c.Kind = ClockJiffies26
	}
	return c
}

// Uptime returns the time since boot in milliseconds from jiffies_64
// (or jiffies).
func (c Clock) Uptime(r core.Reader) (float64, error) {
	a, ok := r.LookupSymbol("jiffies_64")
	size := int64(8)
	if !ok {
		a, ok = r.LookupSymbol("jiffies")
		size = r.PtrSize()
	}
	if !ok {
		return 0, errors.Wrap(ErrUnsupportedLayout, "no jiffies symbol")
	}
	j, err := core.ReadUint(r, a, size)
	if err != nil {
		return 0, err
	}
	return c.JiffiesToMs(j), nil
}

// FormatUptime renders milliseconds as "[N days, ]hh:mm:ss".
func FormatUptime(ms float64) string {
	total := int64(ms / 1000)
	days := total / (3600 * 24)
	total %= 3600 * 24
	hh, mm, ss := total/3600, total%3600/60, total%60
	if days > 0 {
		return fmt.Sprintf("%d days, %02d:%02d:%02d", days, hh, mm, ss)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
}
