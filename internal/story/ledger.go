package story

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Ledger is the append-only list of story lines. It is not safe for
// concurrent use; Story serializes access to it.
type Ledger struct {
	lines     []Line
	maxLines  int
	completed bool
}

func NewLedger(maxLines int) *Ledger {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Ledger{maxLines: maxLines, lines: make([]Line, 0, maxLines)}
}

// NormalizeText trims text and checks it against the line rules.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyLine
	}
	if utf8.RuneCountInString(text) > MaxLineLength {
		return "", ErrLineTooLong
	}
	return text, nil
}

// AddLine validates and appends a line, reporting whether it completed the story.
func (l *Ledger) AddLine(text string, author Address, now time.Time) (Line, bool, error) {
	line, err := l.prepare(text, author, now)
	if err != nil {
		return Line{}, false, err
	}
	completed, err := l.commit(line)
	if err != nil {
		return Line{}, false, err
	}
	return line, completed, nil
}

// prepare builds the next line without changing the ledger.
func (l *Ledger) prepare(text string, author Address, now time.Time) (Line, error) {
	if l.completed {
		return Line{}, ErrStoryComplete
	}
	text, err := NormalizeText(text)
	if err != nil {
		return Line{}, err
	}
	author, err = ParseAddress(string(author))
	if err != nil {
		return Line{}, err
	}
	return Line{
		Index:     len(l.lines),
		Text:      text,
		Author:    author,
		CreatedAt: now.UTC(),
	}, nil
}

// commit appends a prepared line. Completion flips exactly once.
func (l *Ledger) commit(line Line) (bool, error) {
	if l.completed {
		return false, ErrStoryComplete
	}
	if line.Index != len(l.lines) {
		return false, ErrIndexCollision
	}
	l.lines = append(l.lines, line)
	if len(l.lines) == l.maxLines {
		l.completed = true
		return true, nil
	}
	return false, nil
}

func (l *Ledger) Len() int { return len(l.lines) }

func (l *Ledger) MaxLines() int { return l.maxLines }

func (l *Ledger) Completed() bool { return l.completed }

func (l *Ledger) Snapshot() Snapshot {
	lines := make([]Line, len(l.lines))
	copy(lines, l.lines)
	authors := make([]Address, len(l.lines))
	for i, line := range l.lines {
		authors[i] = line.Author
	}
	return Snapshot{Lines: lines, Authors: authors, Completed: l.completed}
}

// Contributors returns unique authors in order of their first line.
func (l *Ledger) Contributors() []Address {
	seen := make(map[Address]struct{}, len(l.lines))
	out := make([]Address, 0, len(l.lines))
	for _, line := range l.lines {
		if _, ok := seen[line.Author]; ok {
			continue
		}
		seen[line.Author] = struct{}{}
		out = append(out, line.Author)
	}
	return out
}
