//go:build !windows

package process

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// starttime is field 22 of /proc/<pid>/stat; the fields after "comm) " start at field 3.
const statStartField = 22 - 3

// getProcStartUnix returns the process start time in Unix seconds, or 0 when
// it cannot be read. PID files store it to detect PID reuse.
func getProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS != "linux" {
		return createTimeUnix(pid)
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	ticks, err := parseStatStartTicks(string(b))
	if err != nil {
		return 0
	}
	btime, err := bootTimeUnix("/proc/stat")
	if err != nil {
		return 0
	}
	return btime + ticks/clockTicks()
}

// createTimeUnix asks gopsutil, which uses sysctl on Darwin and the BSDs.
func createTimeUnix(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// parseStatStartTicks extracts starttime (clock ticks since boot). The comm
// field may contain spaces and parentheses, so fields are counted after the
// last ") ".
func parseStatStartTicks(stat string) (int64, error) {
	end := strings.LastIndex(stat, ") ")
	if end == -1 {
		return 0, errors.New("malformed stat line")
	}
	fields := strings.Fields(stat[end+2:])
	if len(fields) <= statStartField {
		return 0, errors.New("short stat line")
	}
	ticks, err := strconv.ParseInt(fields[statStartField], 10, 64)
	if err != nil {
		return 0, err
	}
	if ticks <= 0 {
		return 0, errors.New("no start time")
	}
	return ticks, nil
}

func bootTimeUnix(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("btime not found")
}

func clockTicks() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
