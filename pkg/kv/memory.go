package kv

import (
	"context"
	"errors"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

var errWrongType = errors.New("kv.memory: WRONGTYPE operation against a key holding the wrong kind of value")

type memEntry struct {
	str     string
	list    []string
	isList  bool
	expires time.Time
}

// MemoryStore — in-process реализация Store с той же семантикой
// (TTL, NX, версионированные ключи для Watch). Для тестов и одиночного запуска.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]*memEntry
	versions map[string]uint64
	seq      uint64
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock подменяет часы (тесты на TTL).
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		data:     make(map[string]*memEntry),
		versions: make(map[string]uint64),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lookup под s.mu; протухший ключ удаляется.
func (s *MemoryStore) lookup(key string) *memEntry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		s.touch(key)
		return nil
	}
	return e
}

func (s *MemoryStore) touch(key string) {
	s.seq++
	s.versions[key] = s.seq
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *MemoryStore) getLocked(key string) (string, error) {
	e := s.lookup(key)
	if e == nil {
		return "", ErrNil
	}
	if e.isList {
		return "", errWrongType
	}
	return e.str, nil
}

func (s *MemoryStore) Set(_ context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, val, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key, val string, ttl time.Duration) {
	s.data[key] = &memEntry{str: val, expires: s.deadline(ttl)}
	s.touch(key)
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delLocked(keys...), nil
}

func (s *MemoryStore) delLocked(keys ...string) int64 {
	var n int64
	for _, k := range keys {
		if s.lookup(k) != nil {
			delete(s.data, k)
			s.touch(k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) SetNX(_ context.Context, key, val string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(key) != nil {
		return false, nil
	}
	s.setLocked(key, val, ttl)
	return true, nil
}

func (s *MemoryStore) PTTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return 0, ErrNil
	}
	if e.expires.IsZero() {
		return NoExpiry, nil
	}
	return e.expires.Sub(s.now()).Truncate(time.Millisecond), nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.isList || e.str != token {
		return false, nil
	}
	delete(s.data, key)
	s.touch(key)
	return true, nil
}

func (s *MemoryStore) CompareAndExpire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil || e.isList || e.str != token {
		return false, nil
	}
	e.expires = s.deadline(ttl)
	s.touch(key)
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	e := s.lookup(key)
	if e != nil {
		if e.isList {
			return 0, errWrongType
		}
		v, err := strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, errors.New("kv.memory: value is not an integer")
		}
		n = v
	}
	n++
	if e == nil {
		e = &memEntry{}
		s.data[key] = e
	}
	e.str = strconv.FormatInt(n, 10)
	s.touch(key)
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(key, ttl), nil
}

func (s *MemoryStore) expireLocked(key string, ttl time.Duration) bool {
	e := s.lookup(key)
	if e == nil {
		return false
	}
	if ttl <= 0 {
		delete(s.data, key)
		s.touch(key)
		return true
	}
	e.expires = s.deadline(ttl)
	s.touch(key)
	return true
}

func (s *MemoryStore) RPush(_ context.Context, key string, vals ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpushLocked(key, vals...)
}

func (s *MemoryStore) rpushLocked(key string, vals ...string) (int64, error) {
	e := s.lookup(key)
	if e == nil {
		e = &memEntry{isList: true}
		s.data[key] = e
	}
	if !e.isList {
		return 0, errWrongType
	}
	e.list = append(e.list, vals...)
	s.touch(key)
	return int64(len(e.list)), nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lrangeLocked(key, start, stop)
}

func (s *MemoryStore) lrangeLocked(key string, start, stop int64) ([]string, error) {
	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if !e.isList {
		return nil, errWrongType
	}
	lo, hi, ok := listBounds(int64(len(e.list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), e.list[lo:hi+1]...), nil
}

func (s *MemoryStore) lsetLocked(key string, index int64, val string) error {
	e := s.lookup(key)
	if e == nil {
		return errors.New("kv.memory: no such key")
	}
	if !e.isList {
		return errWrongType
	}
	n := int64(len(e.list))
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return errors.New("kv.memory: index out of range")
	}
	e.list[index] = val
	s.touch(key)
	return nil
}

func (s *MemoryStore) ltrimLocked(key string, start, stop int64) error {
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if !e.isList {
		return errWrongType
	}
	lo, hi, ok := listBounds(int64(len(e.list)), start, stop)
	if !ok {
		delete(s.data, key)
	} else {
		e.list = append([]string(nil), e.list[lo:hi+1]...)
	}
	s.touch(key)
	return nil
}

// listBounds — нормализация индексов как в LRANGE/LTRIM.
func listBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

func (s *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0)
	for k := range s.data {
		if s.lookup(k) == nil {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Watch(ctx context.Context, fn func(tx Tx) error, keys ...string) error {
	s.mu.Lock()
	seen := make(map[string]uint64, len(keys))
	for _, k := range keys {
		s.lookup(k)
		seen[k] = s.versions[k]
	}
	s.mu.Unlock()

	t := &memTx{s: s}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range seen {
		s.lookup(k)
		if s.versions[k] != v {
			return ErrConflict
		}
	}
	var firstErr error
	for _, op := range t.ops {
		if err := op(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

type memTx struct {
	s   *MemoryStore
	ops []func() error
}

func (t *memTx) Get(ctx context.Context, key string) (string, error) {
	return t.s.Get(ctx, key)
}

func (t *memTx) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return t.s.LRange(ctx, key, start, stop)
}

func (t *memTx) Set(key, val string, ttl time.Duration) {
	t.ops = append(t.ops, func() error { t.s.setLocked(key, val, ttl); return nil })
}

func (t *memTx) Del(keys ...string) {
	t.ops = append(t.ops, func() error { t.s.delLocked(keys...); return nil })
}

func (t *memTx) RPush(key string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	t.ops = append(t.ops, func() error { _, err := t.s.rpushLocked(key, vals...); return err })
}

func (t *memTx) LSet(key string, index int64, val string) {
	t.ops = append(t.ops, func() error { return t.s.lsetLocked(key, index, val) })
}

func (t *memTx) LTrim(key string, start, stop int64) {
	t.ops = append(t.ops, func() error { return t.s.ltrimLocked(key, start, stop) })
}

func (t *memTx) Expire(key string, ttl time.Duration) {
	t.ops = append(t.ops, func() error { t.s.expireLocked(key, ttl); return nil })
}
