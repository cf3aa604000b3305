package imap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UIDSet 是一组消息 UID。
//
// 值 0 在区间中表示 "*"。
type UIDSet []UIDRange

// UIDRange 是消息 UID 的范围。
type UIDRange struct {
	Start, Stop UID // 范围的起始和结束 UID
}

// UIDSetNum 返回包含指定 UID 的新 UIDSet。
func UIDSetNum(uids ...UID) UIDSet {
	var s UIDSet
	s.AddNum(uids...)
	return s
}

// String 返回 UIDSet 的 IMAP 表示，例如 "1:3,7"。
func (s UIDSet) String() string {
	var sb strings.Builder
	for i, r := range s {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(formatUID(r.Start))
		if r.Start != r.Stop {
			sb.WriteByte(':')
			sb.WriteString(formatUID(r.Stop))
		}
	}
	return sb.String()
}

func formatUID(uid UID) string {
	if uid == 0 {
		return "*"
	}
	return strconv.FormatUint(uint64(uid), 10)
}

// Dynamic 在集合包含 "*" 时返回 true。
func (s UIDSet) Dynamic() bool {
	for _, r := range s {
		if r.Start == 0 || r.Stop == 0 {
			return true
		}
	}
	return false
}

// Contains 在非零 uid 包含在集合中时返回 true。
func (s UIDSet) Contains(uid UID) bool {
	for _, r := range s {
		start, stop := r.Start, r.Stop
		if start > stop && stop != 0 {
			start, stop = stop, start
		}
		if stop == 0 {
			stop = ^UID(0)
		}
		if start <= uid && uid <= stop {
			return true
		}
	}
	return false
}

// Nums 按出现顺序返回集合中的所有 UID。
//
// 动态集合无法展开，此时 ok 为 false。
func (s UIDSet) Nums() (uids []UID, ok bool) {
	if s.Dynamic() {
		return nil, false
	}
	for _, r := range s {
		start, stop := r.Start, r.Stop
		if start > stop {
			start, stop = stop, start
		}
		for uid := start; ; uid++ {
			uids = append(uids, uid)
			if uid == stop {
				break
			}
		}
	}
	return uids, true
}

// AddNum 将 UID 插入集合，相邻的 UID 会被合并成区间。
func (s *UIDSet) AddNum(uids ...UID) {
	for _, uid := range uids {
		s.AddRange(uid, uid)
	}
}

// AddRange 将区间插入集合。
func (s *UIDSet) AddRange(start, stop UID) {
	if start > stop && stop != 0 {
		start, stop = stop, start
	}
	if n := len(*s); n > 0 {
		last := &(*s)[n-1]
		if last.Stop != 0 && start != 0 && start == last.Stop+1 {
			last.Stop = stop
			return
		}
	}
	*s = append(*s, UIDRange{Start: start, Stop: stop})
}

// ParseUIDSet 解析 IMAP 的 sequence-set 语法，例如 "4,7:9,12:*"。
func ParseUIDSet(s string) (UIDSet, error) {
	var set UIDSet
	for _, part := range strings.Split(s, ",") {
		startStr, stopStr, isRange := strings.Cut(part, ":")
		start, err := parseUID(startStr)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseUID(stopStr); err != nil {
				return nil, err
			}
		}
		set = append(set, UIDRange{Start: start, Stop: stop})
	}
	return set, nil
}

func parseUID(s string) (UID, error) {
	if s == "*" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("imap: 无效的 UID %q", s)
	}
	return UID(v), nil
}

// SortUIDs 对 UID 切片升序排序并返回。
func SortUIDs(uids []UID) []UID {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}
