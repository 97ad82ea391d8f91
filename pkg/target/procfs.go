package target

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command line of process.
func readProcComm(pid int) (string, error) {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}
	return string(comm), nil
}

// readProcCommArgs read /proc/pid/cmdline to load the command arguments of process
func readProcCommArgs(pid int) ([]string, error) {
	dat, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	dat = bytes.TrimSuffix(dat, []byte{0})
	if len(dat) == 0 {
		return nil, nil
	}
	return strings.Split(string(dat), string([]byte{0}))[1:], nil
}

// mapping /proc/pid/maps中的一行
type mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Inode  uint64
	Path   string
}

// fileBacked 是否映射自磁盘上的文件
func (m mapping) fileBacked() bool {
	return m.Inode != 0 && strings.HasPrefix(m.Path, "/")
}

// readMaps 读取/proc/pid/maps
func readMaps(pid int) ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

// parseMaps 解析maps内容，格式：
//
//	address           perms offset  dev   inode       pathname
//	00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
func parseMaps(r io.Reader) ([]mapping, error) {
	var maps []mapping

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}

		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			return nil, fmt.Errorf("invalid address range: %s", fields[0])
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start address: %v", err)
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid end address: %v", err)
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid offset: %v", err)
		}
		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid inode: %v", err)
		}

		m := mapping{
			Start:  start,
			End:    end,
			Perms:  fields[1],
			Offset: offset,
			Inode:  inode,
		}
		if len(fields) > 5 {
			m.Path = strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)")
		}
		maps = append(maps, m)
	}
	return maps, sc.Err()
}

// loadThreadList 读取/proc/pid/task下的所有线程
func loadThreadList(pid int) ([]int, error) {
	ents, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}

	tids := make([]int, 0, len(ents))
	for _, ent := range ents {
		tid, err := strconv.Atoi(ent.Name())
		if err != nil {
			return nil, err
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

// procState 返回/proc/pid/stat中的进程状态
func procState(pid int) rune {
	dat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	return parseStatState(dat)
}

// parseStatState 第二列是括号中的任务名，名字本身可能包含括号和空格，所以从最后一个')'之后开始解析
func parseStatState(stat []byte) rune {
	idx := bytes.LastIndexByte(stat, ')')
	if idx < 0 {
		return '\000'
	}
	rest := bytes.TrimLeft(stat[idx+1:], " ")
	if len(rest) == 0 {
		return '\000'
	}
	return rune(rest[0])
}

// Process statuses
const (
	statusSleeping  = 'S'
	statusRunning   = 'R'
	statusTraceStop = 't'
	statusZombie    = 'Z'
)
