package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile writes pid on the first line and the process start time as JSON
// on the second. The start time lets PIDFileAlive reject reused PIDs.
func WritePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, _ := json.Marshal(pidMeta{StartUnix: getProcStartUnix(pid)})
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"+string(meta)+"\n"), 0o600)
}

// ReadPIDFile reads a PID file written by WritePIDFile.
// startUnix is zero for files that contain only the PID.
func ReadPIDFile(path string) (pid int, startUnix int64, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var m pidMeta
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &m); err == nil {
		startUnix = m.StartUnix
	}
	return pid, startUnix, nil
}

// PIDFileAlive reports whether the process recorded in path is still running.
// A missing file is not an error.
func PIDFileAlive(path string) (bool, error) {
	pid, start, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if start > 0 {
		if cur := getProcStartUnix(pid); cur > 0 && cur != start {
			return false, nil // PID reused; not our process
		}
	}
	return pidAlive(pid), nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
