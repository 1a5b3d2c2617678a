package repository

import (
	"context"
	"sync"
	"time"

	"musicsquare/model"

	"gorm.io/gorm"
)

// HistoryRepository 播放历史数据访问接口
type HistoryRepository interface {
	// Append 写入一条历史并只保留该用户最近 model.MaxHistory 条
	Append(ctx context.Context, h *model.PlayHistory) error
	// Recent 最近 limit 条，按播放时间从旧到新
	Recent(ctx context.Context, userID int64, limit int) ([]*model.PlayHistory, error)
	// Clear 清空用户历史
	Clear(ctx context.Context, userID int64) error
}

// gormHistoryRepository GORM 实现
type gormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository 创建 GORM 历史仓库
func NewGormHistoryRepository(db *gorm.DB) HistoryRepository {
	return &gormHistoryRepository{db: db}
}

// Append 写入并裁剪
func (r *gormHistoryRepository) Append(ctx context.Context, h *model.PlayHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(h).Error; err != nil {
			return err
		}

		var cutoff []int64
		err := tx.Model(&model.PlayHistory{}).
			Where("user_id = ?", h.UserID).
			Order("id DESC").
			Offset(model.MaxHistory).
			Limit(1).
			Pluck("id", &cutoff).Error
		if err != nil {
			return err
		}
		if len(cutoff) == 0 {
			return nil
		}
		return tx.Where("user_id = ? AND id <= ?", h.UserID, cutoff[0]).
			Delete(&model.PlayHistory{}).Error
	})
}

// Recent 查询最近的历史
func (r *gormHistoryRepository) Recent(ctx context.Context, userID int64, limit int) ([]*model.PlayHistory, error) {
	if limit <= 0 || limit > model.MaxHistory {
		limit = model.MaxHistory
	}
	var rows []*model.PlayHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

// Clear 清空
func (r *gormHistoryRepository) Clear(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.PlayHistory{}).Error
}

// memoryHistoryRepository 未启用数据库时使用，进程退出即丢失
type memoryHistoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64][]*model.PlayHistory
}

// NewMemoryHistoryRepository 创建内存历史仓库
func NewMemoryHistoryRepository() HistoryRepository {
	return &memoryHistoryRepository{rows: make(map[int64][]*model.PlayHistory)}
}

func (r *memoryHistoryRepository) Append(_ context.Context, h *model.PlayHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h.ID = r.nextID
	list := append(r.rows[h.UserID], h)
	if over := len(list) - model.MaxHistory; over > 0 {
		list = append([]*model.PlayHistory(nil), list[over:]...)
	}
	r.rows[h.UserID] = list
	return nil
}

func (r *memoryHistoryRepository) Recent(_ context.Context, userID int64, limit int) ([]*model.PlayHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.rows[userID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]*model.PlayHistory(nil), list...), nil
}

func (r *memoryHistoryRepository) Clear(_ context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.rows, userID)
	r.mu.Unlock()
	return nil
}

// UserHistory 绑定到单个用户的历史存储，供播放会话使用
type UserHistory struct {
	repo   HistoryRepository
	userID int64
	now    func() time.Time
}

// NewUserHistory 创建
func NewUserHistory(repo HistoryRepository, userID int64) *UserHistory {
	return &UserHistory{repo: repo, userID: userID, now: time.Now}
}

// Append 记录一次播放
func (u *UserHistory) Append(ctx context.Context, t *model.Track) error {
	return u.repo.Append(ctx, model.NewPlayHistory(u.userID, t, u.now()))
}

// Fetch 启动时加载历史，从旧到新
func (u *UserHistory) Fetch(ctx context.Context) ([]*model.Track, error) {
	rows, err := u.repo.Recent(ctx, u.userID, model.MaxHistory)
	if err != nil {
		return nil, err
	}
	tracks := make([]*model.Track, 0, len(rows))
	for _, row := range rows {
		tracks = append(tracks, row.Track())
	}
	return tracks, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
