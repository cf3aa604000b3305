package imap

import (
	"time"
)

// SearchCriteria 表示 UID SEARCH 命令的搜索条件。
//
// 多个字段同时填充时，结果是符合全部条件的消息（"与" 操作）。
// Not 与 Or 用来组合子条件，例如以下条件匹配不包含 "hello" 的消息：
//
//	SearchCriteria{Not: []SearchCriteria{{
//		Body: []string{"hello"},
//	}}}
//
// 零值匹配所有消息，即 "ALL"。
type SearchCriteria struct {
	UID []UIDSet

	// 仅使用日期部分，时间和时区被忽略
	Since      time.Time
	Before     time.Time
	SentSince  time.Time
	SentBefore time.Time

	Header []SearchCriteriaHeaderField
	Body   []string
	Text   []string

	Flag    []Flag
	NotFlag []Flag

	Larger  int64
	Smaller int64

	Not []SearchCriteria
	Or  [][2]SearchCriteria
}

// SearchCriteriaHeaderField 表示邮件头的键值对字段。
type SearchCriteriaHeaderField struct {
	Key, Value string
}

// And 将 other 合并进 criteria，结果为两者的交集。
func (criteria *SearchCriteria) And(other *SearchCriteria) {
	criteria.UID = append(criteria.UID, other.UID...)

	criteria.Since = intersectSince(criteria.Since, other.Since)
	criteria.Before = intersectBefore(criteria.Before, other.Before)
	criteria.SentSince = intersectSince(criteria.SentSince, other.SentSince)
	criteria.SentBefore = intersectBefore(criteria.SentBefore, other.SentBefore)

	criteria.Header = append(criteria.Header, other.Header...)
	criteria.Body = append(criteria.Body, other.Body...)
	criteria.Text = append(criteria.Text, other.Text...)

	criteria.Flag = append(criteria.Flag, other.Flag...)
	criteria.NotFlag = append(criteria.NotFlag, other.NotFlag...)

	if criteria.Larger == 0 || other.Larger > criteria.Larger {
		criteria.Larger = other.Larger
	}
	if criteria.Smaller == 0 || (other.Smaller != 0 && other.Smaller < criteria.Smaller) {
		criteria.Smaller = other.Smaller
	}

	criteria.Not = append(criteria.Not, other.Not...)
	criteria.Or = append(criteria.Or, other.Or...)
}

// intersectSince 返回两个日期中较晚的一个，零值视为未设置。
func intersectSince(t1, t2 time.Time) time.Time {
	switch {
	case t1.IsZero():
		return t2
	case t2.IsZero():
		return t1
	case t1.After(t2):
		return t1
	default:
		return t2
	}
}

// intersectBefore 返回两个日期中较早的一个，零值视为未设置。
func intersectBefore(t1, t2 time.Time) time.Time {
	switch {
	case t1.IsZero():
		return t2
	case t2.IsZero():
		return t1
	case t1.Before(t2):
		return t1
	default:
		return t2
	}
}
