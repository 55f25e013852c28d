// Package sdputil rewrites SDP documents so that the negotiated media
// parameters (codec order, bandwidth, format parameters) match a MediaPolicy.
//
// All rewrites are line oriented: the document is split on CRLF, lines are
// spliced in place and the result is rejoined with CRLF. A rewrite that has
// nothing to do returns its input unchanged.
package sdputil

import "strings"

const crlf = "\r\n"

// Lines is an SDP document split into its CRLF-delimited lines.
type Lines []string

// Split splits doc into lines. Split(doc).String() == doc for every doc.
func Split(doc string) Lines {
	return strings.Split(doc, crlf)
}

// String joins the lines back into a document.
func (l Lines) String() string {
	return strings.Join(l, crlf)
}

// Find returns the index of the first line starting with prefix that also
// contains substr (case-insensitive). An empty substr matches any line.
func (l Lines) Find(prefix, substr string) (int, bool) {
	return l.FindInRange(0, len(l), prefix, substr)
}

// FindInRange is Find restricted to l[start:end]. A negative end means the
// end of the document.
func (l Lines) FindInRange(start, end int, prefix, substr string) (int, bool) {
	if end < 0 || end > len(l) {
		end = len(l)
	}
	if start < 0 {
		start = 0
	}
	needle := strings.ToLower(substr)
	for i := start; i < end; i++ {
		if !strings.HasPrefix(l[i], prefix) {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(l[i]), needle) {
			return i, true
		}
	}
	return -1, false
}

// Section returns the bounds [start, end) of the media section whose m= line
// describes kind ("audio", "video", ...). start is the index of the m= line.
func (l Lines) Section(kind string) (start, end int, ok bool) {
	start, ok = l.Find("m="+kind+" ", "")
	if !ok {
		return -1, -1, false
	}
	return start, l.sectionEnd(start), true
}

// sectionOf returns the bounds of the media section containing line i. Lines
// of the session prologue belong to no section.
func (l Lines) sectionOf(i int) (start, end int, ok bool) {
	for s := i; s >= 0; s-- {
		if strings.HasPrefix(l[s], "m=") {
			return s, l.sectionEnd(s), true
		}
	}
	return -1, -1, false
}

func (l Lines) sectionEnd(mLine int) int {
	if next, ok := l.FindInRange(mLine+1, -1, "m=", ""); ok {
		return next
	}
	return len(l)
}

func (l Lines) insert(i int, line string) Lines {
	l = append(l, "")
	copy(l[i+1:], l[i:])
	l[i] = line
	return l
}

func (l Lines) remove(i int) Lines {
	return append(l[:i], l[i+1:]...)
}
