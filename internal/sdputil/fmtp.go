package sdputil

import "strings"

const defaultParamSep = "; "

// Param is one entry of an fmtp parameter list. Entries without "=" (for
// example the "0-15" event range of telephone-event) have an empty Key and
// are kept verbatim in Value.
type Param struct {
	Key   string
	Value string
}

func (p Param) String() string {
	if p.Key == "" {
		return p.Value
	}
	return p.Key + "=" + p.Value
}

// Fmtp is a parsed a=fmtp line: a payload type and its ordered parameters.
type Fmtp struct {
	PayloadType string
	Params      []Param

	// sep is the separator found in the source line, reused on output so
	// untouched lines keep their formatting.
	sep string
}

// ParseFmtp parses "a=fmtp:<pt> <k>=<v>; <k>=<v>...".
func ParseFmtp(line string) (Fmtp, bool) {
	rest, ok := strings.CutPrefix(line, "a=fmtp:")
	if !ok {
		return Fmtp{}, false
	}
	pt, list, _ := strings.Cut(rest, " ")
	if !isPayloadType(pt) {
		return Fmtp{}, false
	}
	f := Fmtp{PayloadType: pt, sep: defaultParamSep}
	if strings.Contains(list, ";") && !strings.Contains(list, "; ") {
		f.sep = ";"
	}
	for _, item := range strings.Split(list, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if k, v, ok := strings.Cut(item, "="); ok {
			f.Params = append(f.Params, Param{Key: k, Value: v})
		} else {
			f.Params = append(f.Params, Param{Value: item})
		}
	}
	return f, true
}

// Get returns the value of key.
func (f Fmtp) Get(key string) (string, bool) {
	for _, p := range f.Params {
		if p.Key != "" && p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Set updates key in place or appends it.
func (f *Fmtp) Set(key, value string) {
	for i, p := range f.Params {
		if p.Key == key {
			f.Params[i].Value = value
			return
		}
	}
	f.Params = append(f.Params, Param{Key: key, Value: value})
}

// Delete removes key and reports whether it was present.
func (f *Fmtp) Delete(key string) bool {
	for i, p := range f.Params {
		if p.Key == key {
			f.Params = append(f.Params[:i], f.Params[i+1:]...)
			return true
		}
	}
	return false
}

// String serializes the record. It returns "" when no parameters remain,
// which callers treat as "drop the line".
func (f Fmtp) String() string {
	if len(f.Params) == 0 {
		return ""
	}
	sep := f.sep
	if sep == "" {
		sep = defaultParamSep
	}
	items := make([]string, len(f.Params))
	for i, p := range f.Params {
		items[i] = p.String()
	}
	return "a=fmtp:" + f.PayloadType + " " + strings.Join(items, sep)
}

// findFmtp locates the fmtp line for codec. The rtpmap line is searched in
// the whole document; the fmtp line only within the same media section.
func (l Lines) findFmtp(codec Codec) (rtpmapIdx, fmtpIdx int, pt string, ok bool) {
	rtpmapIdx, pt, ok = l.findRtpmap(0, len(l), codec)
	if !ok {
		return -1, -1, "", false
	}
	start, end, inSection := l.sectionOf(rtpmapIdx)
	if !inSection {
		start, end = 0, len(l)
	}
	fmtpIdx, found := l.FindInRange(start, end, "a=fmtp:"+pt+" ", "")
	if !found {
		return rtpmapIdx, -1, pt, true
	}
	return rtpmapIdx, fmtpIdx, pt, true
}

// SetCodecParam sets the format parameter key=value for codec. An existing
// fmtp line is updated in place; otherwise a new line is inserted right
// after the codec's rtpmap line.
func SetCodecParam(doc string, codec Codec, key, value string) string {
	l := Split(doc)
	rtpmapIdx, fmtpIdx, pt, ok := l.findFmtp(codec)
	if !ok {
		return doc
	}

	if fmtpIdx < 0 {
		f := Fmtp{PayloadType: pt, Params: []Param{{Key: key, Value: value}}}
		l = l.insert(rtpmapIdx+1, f.String())
		return l.String()
	}

	f, parsed := ParseFmtp(l[fmtpIdx])
	if !parsed {
		return doc
	}
	if cur, exists := f.Get(key); exists && cur == value {
		return doc
	}
	f.Set(key, value)
	l[fmtpIdx] = f.String()
	return l.String()
}

// RemoveCodecParam deletes key from the fmtp line of codec. The line is
// removed entirely when no parameters remain.
func RemoveCodecParam(doc string, codec Codec, key string) string {
	l := Split(doc)
	_, fmtpIdx, _, ok := l.findFmtp(codec)
	if !ok || fmtpIdx < 0 {
		return doc
	}
	f, parsed := ParseFmtp(l[fmtpIdx])
	if !parsed || !f.Delete(key) {
		return doc
	}
	if line := f.String(); line != "" {
		l[fmtpIdx] = line
	} else {
		l = l.remove(fmtpIdx)
	}
	return l.String()
}

// CodecParam returns the value of key in the fmtp line of codec.
func CodecParam(doc string, codec Codec, key string) (string, bool) {
	l := Split(doc)
	_, fmtpIdx, _, ok := l.findFmtp(codec)
	if !ok || fmtpIdx < 0 {
		return "", false
	}
	f, parsed := ParseFmtp(l[fmtpIdx])
	if !parsed {
		return "", false
	}
	return f.Get(key)
}
