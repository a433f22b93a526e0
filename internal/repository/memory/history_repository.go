package memory

import (
	"sync"

	"synopsis/internal/domain"
)

// DefaultHistorySize는 문서별로 보관하는 커밋 수의 기본값입니다.
const DefaultHistorySize = 256

// HistoryRepository는 메모리 기반 커밋 기록 저장소 구현입니다.
// 문서별로 최근 커밋만 보관하며, 용량을 넘으면 가장 오래된 커밋부터 버립니다.
type HistoryRepository struct {
	// capacity는 문서별 최대 커밋 수입니다.
	capacity int

	// commits는 문서 이름에서 버전 순으로 정렬된 커밋 목록으로의 맵입니다.
	commits map[string][]*domain.Commit

	// mutex는 저장소에 대한 동시 접근을 보호합니다.
	mutex sync.RWMutex
}

// NewHistoryRepository는 새 커밋 기록 저장소를 생성합니다.
func NewHistoryRepository(capacity int) *HistoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &HistoryRepository{
		capacity: capacity,
		commits:  make(map[string][]*domain.Commit),
	}
}

// Append는 커밋을 기록합니다. 커밋은 버전 순으로 추가되어야 합니다.
func (r *HistoryRepository) Append(commit *domain.Commit) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	list := append(r.commits[commit.Name], commit)

	// 용량 초과 시 오래된 커밋 제거
	if len(list) > r.capacity {
		trimmed := make([]*domain.Commit, r.capacity)
		copy(trimmed, list[len(list)-r.capacity:])
		list = trimmed
	}

	r.commits[commit.Name] = list
	return nil
}

// Since는 주어진 버전 이후의 커밋을 버전 순으로 반환합니다.
func (r *HistoryRepository) Since(name string, version uint64) ([]*domain.Commit, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	list := r.commits[name]
	result := make([]*domain.Commit, 0, len(list))
	for _, c := range list {
		if c.Version > version {
			cc := *c
			result = append(result, &cc)
		}
	}

	return result, nil
}
