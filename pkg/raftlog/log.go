package raftlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/arkestra/ravel/pkg/types"
)

// Log is a durable, append-only journal of term markers, votes,
// entries, and commit markers. It runs exclusively on the daemon's
// single event-loop goroutine (spec.md §5); no internal locking is
// used.
type Log struct {
	path   string
	file   *os.File
	writer *bufio.Writer

	term        uint64
	votedFor    string
	entries     []Entry // entries[i] is the entry at 1-based index i+1
	commitIndex uint64

	onNewTerm func(term uint64)
}

// Open opens (creating if absent) the journal file at path and
// replays its contents to rebuild in-memory state. A non-nil error
// (typically *RecoveryError) means the file contains a structural
// inconsistency; per spec.md §7 this is an unrecoverable startup
// failure and the caller should abort.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raftlog: opening %s: %w", path, err)
	}

	l := &Log{
		path: path,
		file: file,
	}

	if err := l.recover(); err != nil {
		file.Close()
		return nil, err
	}

	if _, err := file.Seek(0, os.SEEK_END); err != nil {
		file.Close()
		return nil, fmt.Errorf("raftlog: seeking %s: %w", path, err)
	}
	l.writer = bufio.NewWriter(file)

	return l, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			return err
		}
	}
	return l.file.Close()
}

// OnNewTerm registers the callback fired whenever a record advances
// current_term. Never fired during recovery (spec.md §4.1).
func (l *Log) OnNewTerm(fn func(term uint64)) {
	l.onNewTerm = fn
}

func (l *Log) recover() error {
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return &RecoveryError{Line: line, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
		}
		if err := l.apply(rec, true); err != nil {
			return &RecoveryError{Line: line, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("raftlog: reading %s: %w", l.path, err)
	}
	return nil
}

// Term returns current_term.
func (l *Log) Term() uint64 { return l.term }

// LastVote returns the node this log voted for in the current term,
// or "" if it has not voted this term.
func (l *Log) LastVote() string { return l.votedFor }

// LastIndex returns the index of the last entry, or 0 if empty.
func (l *Log) LastIndex() uint64 { return uint64(len(l.entries)) }

// CommitIndex returns the authoritative commit frontier.
func (l *Log) CommitIndex() uint64 { return l.commitIndex }

// Entry returns the entry at the given 1-based index.
func (l *Log) Entry(index uint64) (Entry, error) {
	if index == 0 || index > l.LastIndex() {
		return Entry{}, ErrIndexOutOfRange
	}
	return l.entries[index-1], nil
}

// Match implements the Raft log-matching property: true if (t,i) is
// the zeroth sentinel, or i is in range and its term is t.
func (l *Log) Match(term, index uint64) bool {
	if index == 0 && term == 0 {
		return true
	}
	if index == 0 || index > l.LastIndex() {
		return false
	}
	return l.entries[index-1].Term == term
}

// Invalidate drops all entries at index >= index, leaving
// last_index == index-1.
func (l *Log) Invalidate(index uint64) {
	if index == 0 {
		l.entries = nil
		return
	}
	if index-1 < l.LastIndex() {
		l.entries = l.entries[:index-1]
	}
}

func (l *Log) observeTerm(term uint64, isRecovery bool) error {
	if term < l.term {
		return ErrTermConflict
	}
	if term > l.term {
		l.term = term
		l.votedFor = ""
		if !isRecovery && l.onNewTerm != nil {
			l.onNewTerm(term)
		}
	}
	return nil
}

// apply validates and applies rec. During recovery (isRecovery=true)
// no callbacks fire, since rec is already durable on disk.
func (l *Log) apply(rec Record, isRecovery bool) error {
	switch rec.Type {
	case RecordTerm:
		return l.observeTerm(rec.Term, isRecovery)

	case RecordVote:
		if err := l.observeTerm(rec.Term, isRecovery); err != nil {
			return err
		}
		if l.votedFor == "" {
			l.votedFor = rec.Node
			return nil
		}
		if l.votedFor == rec.Node {
			return nil
		}
		return ErrVoteConflict

	case RecordEntry:
		if err := l.observeTerm(rec.Term, isRecovery); err != nil {
			return err
		}
		return l.applyEntry(rec)

	case RecordCommit:
		if err := l.observeTerm(rec.Term, isRecovery); err != nil {
			return err
		}
		if rec.Index < l.commitIndex {
			return ErrCommitRegression
		}
		l.commitIndex = rec.Index
		return nil

	default:
		return ErrUnknownRecordType
	}
}

func (l *Log) applyEntry(rec Record) error {
	last := l.LastIndex()

	switch {
	case rec.Index >= 1 && rec.Index <= last:
		existing := l.entries[rec.Index-1]
		if rec.Term <= existing.Term {
			return ErrEntryTermConflict
		}
		var precedingTerm uint64
		if rec.Index > 1 {
			precedingTerm = l.entries[rec.Index-2].Term
		}
		if precedingTerm > rec.Term {
			return ErrEntryTermConflict
		}
		l.Invalidate(rec.Index)
		l.entries = append(l.entries, Entry{
			Term:      rec.Term,
			Index:     rec.Index,
			SpawnTerm: rec.SpawnTerm,
			Action:    rec.Action,
		})
		return nil

	case rec.Index == last+1:
		if last > 0 && rec.SpawnTerm < l.entries[last-1].Term {
			return ErrEntryTermConflict
		}
		l.entries = append(l.entries, Entry{
			Term:      rec.Term,
			Index:     rec.Index,
			SpawnTerm: rec.SpawnTerm,
			Action:    rec.Action,
		})
		return nil

	default:
		return ErrIndexJump
	}
}

// write validates and applies rec in memory, persists it, then flushes.
// If persisting fails, the in-memory mutation is rolled back so the log
// is left exactly as before the call, per spec.md §7.
func (l *Log) write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("raftlog: encoding record: %w", err)
	}

	savedTerm, savedVote, savedCommit := l.term, l.votedFor, l.commitIndex
	savedEntries := l.entries
	if rec.Type == RecordEntry && rec.Index >= 1 && rec.Index <= l.LastIndex() {
		// An overwrite reuses the backing array; keep a private copy.
		savedEntries = append([]Entry(nil), l.entries...)
	}

	rollback := func() {
		l.term, l.votedFor, l.commitIndex, l.entries = savedTerm, savedVote, savedCommit, savedEntries
	}

	if err := l.apply(rec, false); err != nil {
		rollback()
		return err
	}

	if _, err := l.writer.Write(data); err != nil {
		rollback()
		return fmt.Errorf("raftlog: writing record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		rollback()
		return fmt.Errorf("raftlog: writing record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		rollback()
		return fmt.Errorf("raftlog: flushing record: %w", err)
	}

	return nil
}

// AppendTerm records an explicit term advance.
func (l *Log) AppendTerm(term uint64) error {
	return l.write(Record{Type: RecordTerm, Term: term})
}

// AppendVote records that this node granted its vote to node in term.
func (l *Log) AppendVote(term uint64, node string) error {
	return l.write(Record{Type: RecordVote, Term: term, Node: node})
}

// AppendEntry records a replicated command at index, with spawnTerm
// set to the term of the entry immediately preceding index.
func (l *Log) AppendEntry(term, index, spawnTerm uint64, action types.Action) error {
	return l.write(Record{
		Type:      RecordEntry,
		Term:      term,
		Index:     index,
		SpawnTerm: spawnTerm,
		Action:    action,
	})
}

// SetCommitIndex advances the authoritative commit frontier. index
// must not be less than the current commit index.
func (l *Log) SetCommitIndex(index uint64) error {
	return l.write(Record{Type: RecordCommit, Term: l.term, Index: index})
}
