package updater

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase is the coarse position of an update run. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseDownloading
	PhaseApplying
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseDownloading:
		return "downloading"
	case PhaseApplying:
		return "applying"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mode describes how the helper intends to fetch the update.
type Mode string

const (
	ModeUnknown Mode = ""
	ModeDelta   Mode = "delta"
	ModeFull    Mode = "full"
)

// Helper protocol tokens.
const (
	lineChecking     = "STATUS:CHECKING"
	lineDownloading  = "STATUS:DOWNLOADING"
	lineApplying     = "STATUS:APPLYING"
	lineApplyAndExit = "UPDATE_APPLYING"
	prefixProgress   = "PROGRESS:"
	prefixDeltaMode  = "DOWNLOAD_MODE:DELTA:"
	prefixFullMode   = "DOWNLOAD_MODE:FULL:"
)

// LineKind classifies one helper output line.
type LineKind int

const (
	LineOther LineKind = iota
	LineChecking
	LineDownloading
	LineProgress
	LineApplying
	LineApplyAndExit
	LineMode
)

// Line is one parsed helper output line.
type Line struct {
	Kind           LineKind
	Raw            string
	Percent        int
	BytesPerSecond int64
	HasSpeed       bool
	Mode           Mode
	Packages       int
}

// ParseLine interprets one trimmed, non-blank helper line. Unrecognized or
// malformed lines come back as LineOther.
func ParseLine(s string) Line {
	l := Line{Kind: LineOther, Raw: s}
	switch {
	case s == lineChecking:
		l.Kind = LineChecking
	case s == lineDownloading:
		l.Kind = LineDownloading
	case s == lineApplying:
		l.Kind = LineApplying
	case s == lineApplyAndExit:
		l.Kind = LineApplyAndExit
	case strings.HasPrefix(s, prefixProgress):
		parts := strings.Split(strings.TrimSpace(s[len(prefixProgress):]), ":")
		pct, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return l
		}
		l.Kind = LineProgress
		l.Percent = clamp(pct, 0, 100)
		if len(parts) > 1 {
			if bps, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err == nil {
				l.BytesPerSecond = max(bps, 0)
				l.HasSpeed = true
			}
		}
	case strings.HasPrefix(s, prefixDeltaMode):
		l.Kind = LineMode
		l.Mode = ModeDelta
		count, _, _ := strings.Cut(s[len(prefixDeltaMode):], ":")
		if n, err := strconv.Atoi(strings.TrimSpace(count)); err == nil && n > 0 {
			l.Packages = n
		}
	case strings.HasPrefix(s, prefixFullMode):
		l.Kind = LineMode
		l.Mode = ModeFull
	}
	return l
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Status is the progress of an update run distilled from helper output.
type Status struct {
	Phase          Phase  `json:"phase"`
	Percent        int    `json:"percent"`
	BytesPerSecond int64  `json:"bytes_per_second,omitempty"`
	HasSpeed       bool   `json:"-"`
	Mode           Mode   `json:"mode,omitempty"`
	Packages       int    `json:"packages,omitempty"`
	ApplyAndExit   bool   `json:"apply_and_exit"`
	Text           string `json:"text"`
}

// Advance folds l into s. It reports whether l was a protocol line; other
// lines leave s unchanged.
func (s *Status) Advance(l Line) bool {
	switch l.Kind {
	case LineChecking:
		s.toPhase(PhaseChecking)
		s.Text = "Checking for updates..."
	case LineDownloading:
		s.toPhase(PhaseDownloading)
		s.Text = "Downloading update..."
	case LineProgress:
		s.toPhase(PhaseDownloading)
		s.Percent = l.Percent
		s.BytesPerSecond, s.HasSpeed = l.BytesPerSecond, l.HasSpeed
		s.Text = progressText(l.Percent, l.BytesPerSecond)
	case LineApplying:
		s.toPhase(PhaseApplying)
		s.Text = "Applying update..."
	case LineApplyAndExit:
		s.ApplyAndExit = true
	case LineMode:
		s.Mode, s.Packages = l.Mode, l.Packages
		s.Text = modeText(l.Mode, l.Packages)
	default:
		return false
	}
	return true
}

func (s *Status) toPhase(p Phase) {
	if p > s.Phase {
		s.Phase = p
	}
}

func progressText(percent int, bps int64) string {
	if percent >= 100 {
		return "Preparing update..."
	}
	if speed := FormatSpeed(bps); speed != "" {
		return fmt.Sprintf("Downloading update... %d%% (%s)", percent, speed)
	}
	return fmt.Sprintf("Downloading update... %d%%", percent)
}

func modeText(m Mode, packages int) string {
	if m == ModeFull {
		return "Full update package required for this version."
	}
	switch {
	case packages == 1:
		return "Delta update available (1 package)."
	case packages > 1:
		return fmt.Sprintf("Delta update available (%d packages).", packages)
	default:
		return "Delta update available."
	}
}

// FormatSpeed renders a transfer rate; zero or negative yields "".
func FormatSpeed(bytesPerSecond int64) string {
	const (
		kb = 1024.0
		mb = kb * 1024
		gb = mb * 1024
	)
	if bytesPerSecond <= 0 {
		return ""
	}
	v := float64(bytesPerSecond)
	switch {
	case v >= gb:
		return fmt.Sprintf("%.2f GB/s", v/gb)
	case v >= mb:
		return fmt.Sprintf("%.2f MB/s", v/mb)
	case v >= kb:
		return fmt.Sprintf("%.1f KB/s", v/kb)
	default:
		return fmt.Sprintf("%d B/s", bytesPerSecond)
	}
}
