package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// LogEntry is a log line as held by a client-side buffer.
type LogEntry struct {
	Key       string
	Source    string
	Namespace string
	Domain    string
	Message   string
	Timestamp time.Time
}

// EntryKey derives the dedup key for a log line from (source, timestamp,
// message). Two textually identical lines from the same source with the same
// timestamp collapse into one entry.
func EntryKey(source string, ts time.Time, message string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// NewLogEntry converts a feed line into a keyed entry.
func NewLogEntry(l LogLine) LogEntry {
	return LogEntry{
		Key:       EntryKey(l.Source, l.Timestamp, l.Message),
		Source:    l.Source,
		Namespace: l.Namespace,
		Domain:    l.Domain,
		Message:   l.Message,
		Timestamp: l.Timestamp,
	}
}

// Line converts the entry back to its feed form.
func (e LogEntry) Line() LogLine {
	return LogLine{
		Source:    e.Source,
		Namespace: e.Namespace,
		Domain:    e.Domain,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
}

// LogHistory is the result of a bounded historical log query.
type LogHistory struct {
	Entries    []LogLine `json:"logs"`
	Domains    []string  `json:"domains"`
	Namespaces []string  `json:"namespaces"`
	Sources    []string  `json:"sources"`
}

// Facets computes the distinct domains, namespaces and sources of lines, in
// first-seen order.
func Facets(lines []LogLine) (domains, namespaces, sources []string) {
	domains, namespaces, sources = []string{}, []string{}, []string{}
	seenD := make(map[string]struct{})
	seenN := make(map[string]struct{})
	seenS := make(map[string]struct{})
	for _, l := range lines {
		if _, ok := seenD[l.Domain]; !ok {
			seenD[l.Domain] = struct{}{}
			domains = append(domains, l.Domain)
		}
		if _, ok := seenN[l.Namespace]; !ok {
			seenN[l.Namespace] = struct{}{}
			namespaces = append(namespaces, l.Namespace)
		}
		if _, ok := seenS[l.Source]; !ok {
			seenS[l.Source] = struct{}{}
			sources = append(sources, l.Source)
		}
	}
	return domains, namespaces, sources
}

// NewLogHistory builds a history response with facets filled in.
func NewLogHistory(lines []LogLine) LogHistory {
	if lines == nil {
		lines = []LogLine{}
	}
	h := LogHistory{Entries: lines}
	h.Domains, h.Namespaces, h.Sources = Facets(lines)
	return h
}

// LogOrigin labels the lines produced by one collector.
type LogOrigin struct {
	Source    string `yaml:"source" toml:"source" json:"source"`
	Namespace string `yaml:"namespace" toml:"namespace" json:"namespace"`
	Domain    string `yaml:"domain" toml:"domain" json:"domain"`
}

// Line builds a log line from this origin.
func (o LogOrigin) Line(message string, ts time.Time) LogLine {
	return LogLine{
		Source:    o.Source,
		Namespace: o.Namespace,
		Domain:    o.Domain,
		Message:   message,
		Timestamp: ts,
	}
}
