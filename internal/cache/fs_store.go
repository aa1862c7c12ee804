package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	partitionsDir = "partitions"
	entrySuffix   = ".entry"
	backupSuffix  = ".prev"
)

// renameFile 在测试中可替换，用于模拟发布阶段的失败。
var renameFile = os.Rename

// NewStore 以 basePath 为根目录构建磁盘分区存储，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	root := filepath.Join(abs, partitionsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		root:  root,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 root。
type fileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryHeader 是条目文件第一行的 JSON 元数据。
type entryHeader struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Size     int64       `json:"size"`
	StoredAt time.Time   `json:"stored_at"`
}

func (s *fileStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition %s: %w", name, err)
	}
	return &filePartition{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Lookup(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return nil, err
	}
	return &filePartition{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.partitionDir(name)
	if err != nil {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Match(ctx context.Context, key Key) (*Entry, string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, name := range names {
		dir, err := s.partitionDir(name)
		if err != nil {
			continue
		}
		part := &filePartition{store: s, name: name, dir: dir}
		entry, err := part.Match(ctx, key)
		switch {
		case err == nil:
			return entry, name, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, "", err
		}
	}
	return nil, "", ErrNotFound
}

func (s *fileStore) partitionDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return filepath.Join(s.root, name), nil
}

func (s *fileStore) lockEntry(lockKey string) func() {
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// filePartition 是 fileStore 中的单个目录。
type filePartition struct {
	store *fileStore
	name  string
	dir   string
}

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(p.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return nil, fmt.Errorf("corrupt cache entry %s", key)
	}
	var header entryHeader
	if err := json.Unmarshal(raw[:idx], &header); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	body := raw[idx+1:]
	if int64(len(body)) != header.Size {
		return nil, fmt.Errorf("truncated cache entry %s", key)
	}
	if header.Header == nil {
		header.Header = http.Header{}
	}

	return &Entry{
		Key: Key{Method: header.Method, URL: header.URL},
		Snapshot: &Snapshot{
			Status: header.Status,
			Header: header.Header,
			Body:   body,
		},
		StoredAt: header.StoredAt,
	}, nil
}

func (p *filePartition) Put(ctx context.Context, key Key, snapshot *Snapshot) error {
	tempName, err := p.writeTemp(ctx, key, snapshot)
	if err != nil {
		return err
	}
	return p.publish(key, tempName)
}

func (p *filePartition) PutAll(ctx context.Context, items []Item) error {
	temps := make([]string, 0, len(items))
	cleanup := func(from int) {
		for _, name := range temps[from:] {
			os.Remove(name)
		}
	}

	for _, item := range items {
		tempName, err := p.writeTemp(ctx, item.Key, item.Snapshot)
		if err != nil {
			cleanup(0)
			return err
		}
		temps = append(temps, tempName)
	}

	done := make([]swappedEntry, 0, len(items))
	for i, item := range items {
		swapped, err := p.swap(item.Key, temps[i])
		if err != nil {
			cleanup(i + 1)
			for j := len(done) - 1; j >= 0; j-- {
				p.restore(done[j])
			}
			return err
		}
		done = append(done, swapped)
	}
	for _, swapped := range done {
		if swapped.backup != "" {
			os.Remove(swapped.backup)
		}
	}
	return nil
}

// swappedEntry 记录一次批量发布，backup 为空表示此前没有旧条目。
type swappedEntry struct {
	key    Key
	backup string
}

// swap 发布临时文件，同时把旧条目挪到备份文件，供回滚使用。
func (p *filePartition) swap(key Key, tempName string) (swappedEntry, error) {
	unlock := p.store.lockEntry(p.lockKey(key))
	defer unlock()

	target := p.entryPath(key)
	swapped := swappedEntry{key: key}
	if _, err := os.Lstat(target); err == nil {
		swapped.backup = tempName + backupSuffix
		if err := renameFile(target, swapped.backup); err != nil {
			os.Remove(tempName)
			return swappedEntry{}, err
		}
	}
	if err := renameFile(tempName, target); err != nil {
		os.Remove(tempName)
		if swapped.backup != "" {
			renameFile(swapped.backup, target)
		}
		return swappedEntry{}, err
	}
	return swapped, nil
}

// restore 撤销一次 swap：恢复旧条目，或删除新发布的条目。
func (p *filePartition) restore(swapped swappedEntry) {
	unlock := p.store.lockEntry(p.lockKey(swapped.key))
	defer unlock()

	target := p.entryPath(swapped.key)
	if swapped.backup == "" {
		os.Remove(target)
		return
	}
	renameFile(swapped.backup, target)
}

func (p *filePartition) Remove(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := p.store.lockEntry(p.lockKey(key))
	defer unlock()

	if err := os.Remove(p.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *filePartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]Key, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		header, err := readEntryHeader(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		keys = append(keys, Key{Method: header.Method, URL: header.URL})
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

// writeTemp 将条目写入同目录下的临时文件，返回临时文件名。
func (p *filePartition) writeTemp(ctx context.Context, key Key, snapshot *Snapshot) (string, error) {
	if snapshot == nil {
		return "", errors.New("nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", err
	}

	header := entryHeader{
		Method:   key.Method,
		URL:      key.URL,
		Status:   snapshot.Status,
		Header:   storableHeader(snapshot.Header),
		Size:     int64(len(snapshot.Body)),
		StoredAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	tempFile, err := os.CreateTemp(p.dir, ".entry-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(append(meta, '\n'))
	if err == nil {
		_, err = copyWithContext(ctx, tempFile, bytes.NewReader(snapshot.Body))
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func (p *filePartition) publish(key Key, tempName string) error {
	unlock := p.store.lockEntry(p.lockKey(key))
	defer unlock()

	if err := renameFile(tempName, p.entryPath(key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (p *filePartition) entryPath(key Key) string {
	return filepath.Join(p.dir, key.digest()+entrySuffix)
}

func (p *filePartition) lockKey(key Key) string {
	return p.name + "::" + key.digest()
}

func readEntryHeader(path string) (entryHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return entryHeader{}, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return entryHeader{}, fmt.Errorf("read cache entry header: %w", err)
	}
	var header entryHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return entryHeader{}, fmt.Errorf("decode cache entry header: %w", err)
	}
	return header, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
