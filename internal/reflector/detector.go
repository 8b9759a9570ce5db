// internal/reflector/detector.go
package reflector

import (
	"regexp"
	"strings"

	"github.com/Corphon/AIHouse/internal/models"
)

// Detector 判断一句话是否在点名另一个角色
type Detector interface {
	Detect(speaker, content string) (string, bool)
}

// AddressingDetector 基于名册的点名检测。
// 名字需首字母大写，出现在句首或句末标点+空白之后，紧跟 , : ? ! . 或空白。
// 只取第一个匹配；发言者自身被排除，"user" 使用完整名册。
type AddressingDetector struct {
	roster []string
	// 按发言者缓存编译好的表达式，构造后只读
	patterns map[string]*regexp.Regexp
	full     *regexp.Regexp
}

// NewAddressingDetector 以角色标识名册构造检测器
func NewAddressingDetector(roster []string) *AddressingDetector {
	ids := make([]string, 0, len(roster))
	for _, id := range roster {
		if id = models.NormalizeSpeaker(id); id != "" {
			ids = append(ids, id)
		}
	}

	d := &AddressingDetector{
		roster:   ids,
		patterns: make(map[string]*regexp.Regexp, len(ids)),
		full:     buildAddressPattern(ids),
	}
	for _, self := range ids {
		others := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != self {
				others = append(others, id)
			}
		}
		d.patterns[self] = buildAddressPattern(others)
	}
	return d
}

// Roster 名册副本
func (d *AddressingDetector) Roster() []string {
	return append([]string(nil), d.roster...)
}

// Detect 返回被点名角色的小写标识
func (d *AddressingDetector) Detect(speaker, content string) (string, bool) {
	re := d.full
	if p, ok := d.patterns[models.NormalizeSpeaker(speaker)]; ok {
		re = p
	}
	if re == nil {
		return "", false
	}
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func buildAddressPattern(ids []string) *regexp.Regexp {
	if len(ids) == 0 {
		return nil
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, regexp.QuoteMeta(capitalize(id)))
	}
	return regexp.MustCompile(`(?:^|[.!?]\s+)(` + strings.Join(names, "|") + `)(?:[,:?!.]|\s)`)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
