package service

import "sync"

// LocalFile 表示仅存在于当前会话内存中的文件引用。
// 物化（上传字节并落库元数据）后 ID 换成持久 id，原临时 id 即作废。
type LocalFile struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
	Bytes    []byte // 源字节；物化后仍保留，供备份直传
	URL      string
	Durable  bool
}

// Stash 保存会话内的本地文件引用。
// 读取返回值拷贝；变更只发生在操作完成之后。
type Stash struct {
	mu    sync.RWMutex
	files map[string]*LocalFile
}

func NewStash() *Stash {
	return &Stash{files: make(map[string]*LocalFile)}
}

// Put 登记一个本地文件引用。
func (s *Stash) Put(f *LocalFile) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
}

// Get 返回指定 id 的快照副本。
func (s *Stash) Get(id string) (LocalFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return LocalFile{}, false
	}
	return *f, true
}

// Promote 用持久 id 替换临时 id。旧 id 自此不可再用于查找。
func (s *Stash) Promote(oldID string, updated LocalFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, oldID)
	s.files[updated.ID] = &updated
}

// Remove 丢弃一个本地文件引用。
func (s *Stash) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
}
