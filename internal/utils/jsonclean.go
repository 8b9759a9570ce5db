// internal/utils/jsonclean.go
package utils

import (
	"strings"
	"unicode"
)

// 清理JSON字符串时需要剔除的噪声
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// StripCodeFences 移除LLM响应中的Markdown代码块标记
func StripCodeFences(raw string) string {
	return strings.TrimSpace(jsonNoiseReplacer.Replace(raw))
}

// ExtractJSONObject 返回文本中第一个完整的 {...} 对象。
// 括号计数会跳过字符串内部的花括号。
func ExtractJSONObject(raw string) (string, bool) {
	s := StripCodeFences(raw)

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	s = s[start:]

	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			balance++
		case '}':
			balance--
			if balance == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// TruncateRunes 按字符截断，避免切断多字节字符
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
