package serialmux

import "strings"

// Reply is one line sent back by the camera. Successful replies have the
// form KEY=VALUE; a failed command is answered with KEY!. Either may end in
// " #TAG", echoing the tag of the command it answers.
type Reply struct {
	Key    string
	Value  string
	Failed bool
	Tag    string
}

// ParseReply splits a reply line. Lines that are neither KEY=VALUE nor KEY!
// (banners, blank lines, debug chatter) are reported as not ok.
func ParseReply(line string) (Reply, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{}, false
	}
	var tag string
	if i := strings.LastIndex(line, " #"); i >= 0 {
		line, tag = line[:i], line[i+2:]
	}
	if key, ok := strings.CutSuffix(line, "!"); ok && isKey(key) {
		return Reply{Key: key, Failed: true, Tag: tag}, true
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok || !isKey(key) {
		return Reply{}, false
	}
	return Reply{Key: key, Value: value, Tag: tag}, true
}

func isKey(s string) bool {
	if s == "" || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
